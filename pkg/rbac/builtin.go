package rbac

// contentResources are the resources members build and run inside a workspace.
var contentResources = []Resource{
	ResourceChatflow,
	ResourceAgentflow,
	ResourceAssistant,
	ResourceTool,
	ResourceCredential,
	ResourceVariable,
	ResourceDocumentStore,
	ResourceDataset,
	ResourceEvaluation,
}

// BuiltInPermissions returns the fixed permission table of a built-in role.
// The second return is false when name is not built in.
func BuiltInPermissions(name string) (PermissionSet, bool) {
	switch name {
	case RoleAdmin:
		return NewPermissionSet(Catalog()...), true
	case RoleMember:
		return memberPermissions(), true
	case RoleReadonly:
		return readonlyPermissions(), true
	default:
		return nil, false
	}
}

func memberPermissions() PermissionSet {
	set := NewPermissionSet()
	for _, r := range contentResources {
		for _, a := range ActionsFor(r) {
			set.Add(Permission{Resource: r, Action: a})
		}
	}
	set.Add(
		Permission{Resource: ResourceAPIKey, Action: ActionRead},
		Permission{Resource: ResourceAPIKey, Action: ActionCreate},
		Permission{Resource: ResourceWorkspace, Action: ActionRead},
		Permission{Resource: ResourceOrganization, Action: ActionRead},
		Permission{Resource: ResourceUser, Action: ActionRead},
		Permission{Resource: ResourceRole, Action: ActionRead},
	)
	return set
}

func readonlyPermissions() PermissionSet {
	set := NewPermissionSet()
	for _, r := range contentResources {
		set.Add(Permission{Resource: r, Action: ActionRead})
	}
	set.Add(
		Permission{Resource: ResourceWorkspace, Action: ActionRead},
		Permission{Resource: ResourceOrganization, Action: ActionRead},
	)
	return set
}
