package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned by ParseRole for names outside the role set.
var ErrUnknownRole = errors.New("unknown agent role")

// Role selects an agent's description, system message and tools. The set is
// closed: only the constants below are valid.
type Role string

const (
	Delegator      Role = "delegator"
	Builder        Role = "builder"
	ProductManager Role = "product_manager"
)

// Roles lists every valid role.
func Roles() []Role {
	return []Role{Delegator, Builder, ProductManager}
}

// ParseRole maps a stored agent type to a Role. "project_manager" is accepted
// for rows written before the product manager was renamed.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case Delegator, Builder, ProductManager:
		return r, nil
	case "project_manager":
		return ProductManager, nil
	}
	return "", fmt.Errorf("agent: %q: %w", s, ErrUnknownRole)
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := profiles[r]
	return ok
}

// Profile is the fixed configuration a role gives its sessions.
type Profile struct {
	Description   string
	SystemMessage string
	Tools         []string // tool names the role may call
}

// Profile returns the role's profile. Invalid roles get the zero Profile.
func (r Role) Profile() Profile {
	return profiles[r]
}

var profiles = map[Role]Profile{
	Delegator: {
		Description: "A software architect",
		SystemMessage: `You are a software architect that helps break down coding tasks into smaller tasks.
Your job is to analyze a codebase and recommend specific files to write or modify.
You will receive a high-level task and need to break it down into a series of smaller,
more focused tasks along with the relevant files for each task.

For each task, consider:
1. What files need to be created or modified
2. How the changes fit into the overall architecture
3. Dependencies between tasks

Provide a clear breakdown of tasks that can be assigned to developers.`,
	},
	Builder: {
		Description: "A software developer",
		SystemMessage: `You are an elite software engineer.
You are given a list of files you need to write as well as some instructions about
how the files you're tasked with fit into the bigger program.
You are only responsible for your task, but the team task is provided for context.
ALWAYS output the full contents of each file including your modifications.`,
	},
	ProductManager: {
		Description: "A product manager",
		SystemMessage: "You are the product manager for our company and are responsible for " +
			"developing product specs that outline products for us to build",
		Tools: []string{WriteProductSpecTool},
	},
}
