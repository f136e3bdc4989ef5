package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// CommonRoleTemplates returns common role templates
func CommonRoleTemplates() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        "flow-builder",
			DisplayName: "Flow Builder",
			Description: "Builds and runs chatflows and agentflows",
			Permissions: []Permission{
				{Resource: ResourceChatflow, Action: ActionRead},
				{Resource: ResourceChatflow, Action: ActionCreate},
				{Resource: ResourceChatflow, Action: ActionUpdate},
				{Resource: ResourceChatflow, Action: ActionRun},
				{Resource: ResourceAgentflow, Action: ActionRead},
				{Resource: ResourceAgentflow, Action: ActionCreate},
				{Resource: ResourceAgentflow, Action: ActionUpdate},
				{Resource: ResourceAgentflow, Action: ActionRun},
				{Resource: ResourceTool, Action: ActionRead},
				{Resource: ResourceCredential, Action: ActionRead},
				{Resource: ResourceVariable, Action: ActionRead},
			},
		},
		{
			Name:        "knowledge-manager",
			DisplayName: "Knowledge Manager",
			Description: "Manages document stores and datasets",
			Permissions: []Permission{
				{Resource: ResourceDocumentStore, Action: ActionRead},
				{Resource: ResourceDocumentStore, Action: ActionCreate},
				{Resource: ResourceDocumentStore, Action: ActionUpdate},
				{Resource: ResourceDocumentStore, Action: ActionDelete},
				{Resource: ResourceDocumentStore, Action: ActionImport},
				{Resource: ResourceDataset, Action: ActionRead},
				{Resource: ResourceDataset, Action: ActionCreate},
				{Resource: ResourceDataset, Action: ActionUpdate},
				{Resource: ResourceDataset, Action: ActionImport},
			},
		},
		{
			Name:        "evaluator",
			DisplayName: "Evaluator",
			Description: "Runs evaluations against existing flows",
			Permissions: []Permission{
				{Resource: ResourceChatflow, Action: ActionRead},
				{Resource: ResourceAgentflow, Action: ActionRead},
				{Resource: ResourceDataset, Action: ActionRead},
				{Resource: ResourceEvaluation, Action: ActionRead},
				{Resource: ResourceEvaluation, Action: ActionCreate},
				{Resource: ResourceEvaluation, Action: ActionRun},
			},
		},
		{
			Name:        "auditor",
			DisplayName: "Auditor",
			Description: "Read-only access for auditing purposes",
			Permissions: []Permission{
				{Resource: ResourceChatflow, Action: ActionRead},
				{Resource: ResourceAgentflow, Action: ActionRead},
				{Resource: ResourceAssistant, Action: ActionRead},
				{Resource: ResourceAPIKey, Action: ActionRead},
				{Resource: ResourceWorkspace, Action: ActionRead},
				{Resource: ResourceOrganization, Action: ActionRead},
				{Resource: ResourceUser, Action: ActionRead},
				{Resource: ResourceRole, Action: ActionRead},
			},
		},
	}
}

type templateFile struct {
	Templates []RoleTemplate `yaml:"templates"`
}

// LoadTemplates reads a YAML template catalog of the form
//
//	templates:
//	  - name: support
//	    display_name: Support
//	    permissions: ["chatflow:read", "chatflow:run"]
//
// Every permission must be part of the catalog.
func LoadTemplates(path string) ([]RoleTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role templates: %w", err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role templates %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Templates))
	for _, tmpl := range file.Templates {
		if tmpl.Name == "" {
			return nil, fmt.Errorf("%w: role template without a name in %s", apierr.ErrInvalidInput, path)
		}
		if seen[tmpl.Name] {
			return nil, fmt.Errorf("%w: duplicate role template %q", apierr.ErrInvalidInput, tmpl.Name)
		}
		seen[tmpl.Name] = true
	}

	return file.Templates, nil
}

// MergeTemplates overlays extra on base. A template in extra replaces the
// base template of the same name.
func MergeTemplates(base, extra []RoleTemplate) []RoleTemplate {
	merged := make([]RoleTemplate, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))
	for _, list := range [][]RoleTemplate{base, extra} {
		for _, tmpl := range list {
			if i, ok := index[tmpl.Name]; ok {
				merged[i] = tmpl
				continue
			}
			index[tmpl.Name] = len(merged)
			merged = append(merged, tmpl)
		}
	}
	return merged
}
