package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/redmonkez12/go-keystore-auth/cmd/keystorectl/admin"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// RunUserForm asks for the fields of a new account. Values already present
// in input are used as defaults.
func RunUserForm(input admin.UserInput) (admin.UserInput, error) {
	roles := input.Roles
	if len(roles) == 0 {
		roles = []string{user.RoleLearner}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Placeholder("ops@example.com").
				Value(&input.Email).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("email is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Password").
				Description("At least 8 characters").
				EchoMode(huh.EchoModePassword).
				Value(&input.Password).
				Validate(func(s string) error {
					if len(s) < 8 {
						return fmt.Errorf("password must be at least 8 characters")
					}
					return nil
				}),

			huh.NewInput().
				Title("Display name").
				Description("Optional").
				Value(&input.DisplayName),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Roles").
				Options(roleOptions()...).
				Value(&roles),

			huh.NewConfirm().
				Title("Mark email as verified?").
				Value(&input.Verified),
		),
	).WithTheme(huh.ThemeCatppuccin())

	if err := form.Run(); err != nil {
		return admin.UserInput{}, err
	}

	input.Roles = roles
	return input, nil
}

// Confirm asks a yes/no question and defaults to no.
func Confirm(question string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// PrintUser prints the created account as a card.
func PrintUser(u *user.User) {
	rows := []string{
		titleStyle.Render("User created"),
		field("ID", u.ID.String()),
		field("Email", u.Email),
		field("Roles", strings.Join(u.Roles, ", ")),
		field("Verified", fmt.Sprintf("%t", u.Verified)),
	}
	fmt.Println(cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}

// PrintSuccess prints a success line.
func PrintSuccess(msg string) {
	fmt.Println(successStyle.Render(msg))
}

// PrintHint prints a dimmed line.
func PrintHint(msg string) {
	fmt.Println(hintStyle.Render(msg))
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Println(errorStyle.Render("Error: " + msg))
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func roleOptions() []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(admin.KnownRoles))
	for _, r := range admin.KnownRoles {
		opts = append(opts, huh.NewOption(strings.ToLower(r), r))
	}
	return opts
}
