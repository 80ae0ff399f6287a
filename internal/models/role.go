package models

import (
	"fmt"
	"strings"
)

// Role is the supply-chain stage an actor represents.
type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleDistributor Role = "distributor"
	RoleRetailer    Role = "retailer"
	RoleConsumer    Role = "consumer"
)

// roleAliases maps the generic stage names onto the concrete roles.
var roleAliases = map[string]Role{
	"farmer":       RoleFarmer,
	"producer":     RoleFarmer,
	"distributor":  RoleDistributor,
	"intermediary": RoleDistributor,
	"retailer":     RoleRetailer,
	"retail":       RoleRetailer,
	"consumer":     RoleConsumer,
	"reader":       RoleConsumer,
}

// ParseRole resolves a role tag, accepting the generic aliases.
func ParseRole(s string) (Role, error) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", NewValidationError(fmt.Sprintf("unknown role %q", s), nil)
	}
	return r, nil
}

// Actor returns the MSP-style identity recorded in history entries, e.g. "distributorMSP".
func (r Role) Actor() string {
	return string(r) + "MSP"
}
