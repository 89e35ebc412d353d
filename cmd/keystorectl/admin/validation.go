package admin

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// KnownRoles are the role codes an operator may assign.
var KnownRoles = []string{user.RoleLearner, user.RoleWriter, user.RoleEditor, user.RoleAdmin}

// UserInput describes an account created from the command line.
type UserInput struct {
	Email       string
	Password    string
	DisplayName string
	Roles       []string
	Verified    bool
}

// ValidateUserInput normalizes input in place and checks that every field
// is usable.
func ValidateUserInput(input *UserInput) error {
	input.Email = user.NormalizeEmail(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)

	roles := make([]string, 0, len(input.Roles))
	for _, r := range input.Roles {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	input.Roles = roles

	return validation.ValidateStruct(input,
		validation.Field(&input.Email, validation.Required, is.Email),
		validation.Field(&input.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&input.Roles, validation.By(knownRoles)),
	)
}

// ParseRoles splits a comma separated role list.
func ParseRoles(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func knownRoles(value any) error {
	roles, _ := value.([]string)
	for _, r := range roles {
		if !isKnownRole(r) {
			return fmt.Errorf("unknown role %q (want one of %s)", r, strings.Join(KnownRoles, ", "))
		}
	}
	return nil
}

func isKnownRole(role string) bool {
	for _, k := range KnownRoles {
		if k == role {
			return true
		}
	}
	return false
}
