package pages

import (
	"regexp"
	"strings"

	"github.com/coherent-in/shotbuzz-e2e/internal/locator"
)

// Element queries shared by every role's view of the portal.
var (
	emailInput    = locator.ByPlaceholder("Enter your email")
	passwordInput = locator.ByPlaceholder("Enter password")
	signInButton  = locator.ByRole(locator.RoleButton).Named("Sign in")

	searchInput = locator.ByPlaceholder("Search shots")

	dashboardHeader = locator.ByRole(locator.RoleHeading).
			NamedLike(locator.MatchingString(`(?i)Shot List|Head Reports|Dashboard`)).
			Or(locator.ByText(locator.MatchingString(`(?i)TOTAL SHOTS`)))

	shotDialog   = locator.ByRole(locator.RoleDialog)
	teamTab      = locator.ByRole(locator.RoleTab).Named("TEAM")
	editRoles    = locator.ByRole(locator.RoleButton).Named("Edit roles")
	updateRoles  = locator.ByRole(locator.RoleButton).Named("Update roles")
	changeStatus = locator.ByText(locator.Exact("Change Status"))
	selectStatus = locator.ByRole(locator.RoleCombobox).WithText(locator.ContainsCase("Select Status"))
	listbox      = locator.ByRole(locator.RoleListbox)

	statusPattern = locator.MatchingString(`YTA|WIP|STQ|CRT`)
	unassigned    = locator.MatchingString(`(?i)Unassigned|Select`)

	supervisorLabel = regexp.MustCompile(`(?i)^Supervisor$`)
	teamLeadLabel   = regexp.MustCompile(`(?i)^(TL|Team Lead)$`)
)

// dashboardButton is the sidebar entry labelled per role.
func dashboardButton(label *regexp.Regexp) locator.ElementQuery {
	f := locator.Matching(label)
	return locator.ByRole(locator.RoleButton).NamedLike(f).
		Or(locator.ByRole(locator.RoleLink).NamedLike(f))
}

func shotRow(name string) locator.ElementQuery {
	return locator.ByRole(locator.RoleRow).WithText(locator.ContainsCase(name))
}

func shotMenu(name string) locator.ElementQuery {
	return locator.ByRole(locator.RoleButton).Named("Open menu").Within(shotRow(name))
}

func shotNameCell(name string) locator.ElementQuery {
	return locator.ByText(locator.Exact(name))
}

// statusBadge is any element inside the shot dialog showing status.
func statusBadge(status string) locator.ElementQuery {
	return locator.ByText(locator.ContainsCase(status)).Within(shotDialog)
}

func statusTrigger() locator.ElementQuery {
	return locator.ByRole(locator.RoleButton).WithText(statusPattern).
		Or(locator.ByRole(locator.RoleCombobox).WithText(statusPattern)).
		Within(shotDialog)
}

// roleTrigger is the unassigned picker of the role whose label matches.
func roleTrigger(label *regexp.Regexp) locator.ElementQuery {
	f := locator.Matching(label)
	return locator.ByRole(locator.RoleCombobox).NamedLike(f).WithText(unassigned).
		Or(locator.ByRole(locator.RoleButton).NamedLike(f).WithText(unassigned)).
		Within(shotDialog)
}

// PersonPattern matches a display name loosely: whitespace becomes .* and
// case is ignored, so "Mitchel John" matches "Mitchel  A. John".
func PersonPattern(name string) *regexp.Regexp {
	parts := strings.Fields(name)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(parts, ".*"))
}

func personOption(name string) locator.ElementQuery {
	return locator.ByRole(locator.RoleOption).WithText(locator.Matching(PersonPattern(name)))
}
