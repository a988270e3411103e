package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/pkg/domains"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation(err.Error())
	}
	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeTag(fe)
		names = append(names, fe.Field())
	}
	return apperrors.ValidationFields(fmt.Sprintf("invalid fields: %s", strings.Join(names, ", ")), fields)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eq":
		return fmt.Sprintf("must equal %q", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateTaskPayload decodes payload into the variant for taskType and validates it.
func ValidateTaskPayload(taskType domains.TaskType, payload map[string]interface{}) (domains.TaskPayload, error) {
	if !taskType.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown task type: %s", taskType))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("payload is not serializable: %v", err))
	}
	typed, err := domains.DecodePayload(taskType, raw)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if err := ValidateStruct(typed); err != nil {
		return nil, apperrors.Wrap(err, fmt.Sprintf("invalid %s payload", typed.Schema()))
	}

	if deploy, ok := typed.(*domains.StackDeployPayload); ok {
		if err := ValidateComposeContent(deploy.ComposeContent); err != nil {
			return nil, err
		}
	}
	return typed, nil
}

// ValidateComposeContent checks that content is a compose document declaring at least one service.
func ValidateComposeContent(content string) error {
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return apperrors.ValidationFields("composeContent is not valid YAML",
			map[string]string{"composeContent": err.Error()})
	}
	if len(doc.Services) == 0 {
		return apperrors.ValidationFields("composeContent declares no services",
			map[string]string{"composeContent": "must define at least one service"})
	}
	return nil
}
