package executor

import (
	"sort"

	"dockfleet/pkg/domains"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// GroupStacks groups containers into compose stacks by project label, sorted by name.
// Containers without a project label are not part of any stack.
func GroupStacks(containers []ContainerInfo) []domains.Stack {
	byProject := make(map[string]*domains.Stack)
	var names []string

	for _, ctr := range containers {
		project := ctr.Labels[composeProjectLabel]
		if project == "" {
			continue
		}

		stack, ok := byProject[project]
		if !ok {
			stack = &domains.Stack{ID: project, Name: project, Services: []domains.StackService{}, Source: "local"}
			byProject[project] = stack
			names = append(names, project)
		}

		service := ctr.Labels[composeServiceLabel]
		if service == "" {
			service = ctr.Name
		}
		stack.Services = append(stack.Services, domains.StackService{
			Name:        service,
			ContainerID: ctr.ID,
			Image:       ctr.Image,
			State:       ctr.State,
			Status:      ctr.Status,
		})
		stack.ServiceCount++
		if ctr.State == "running" {
			stack.RunningCount++
		}
	}

	sort.Strings(names)
	stacks := make([]domains.Stack, 0, len(names))
	for _, name := range names {
		stack := byProject[name]
		sort.Slice(stack.Services, func(i, j int) bool { return stack.Services[i].Name < stack.Services[j].Name })
		stack.Status = domains.DeriveStackStatus(stack.RunningCount, stack.ServiceCount)
		stacks = append(stacks, *stack)
	}
	return stacks
}
