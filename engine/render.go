package engine

import (
	"strings"

	"focalcrm/models"
)

// Render replaces every {{key}} token in text with its value from vars.
// Unknown tokens are left untouched. The template language deliberately
// has no conditionals or loops, so rendering is a pure string pass.
func Render(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}

// ClientVars builds the substitution map for a client/business pair.
func ClientVars(client *models.Client, business *models.Business) map[string]string {
	fullName := strings.TrimSpace(client.FirstName + " " + client.LastName)
	return map[string]string{
		"first_name":    client.FirstName,
		"last_name":     client.LastName,
		"full_name":     fullName,
		"client_email":  client.Email,
		"client_phone":  client.Phone,
		"business_name": business.Name,
		"from_name":     business.FromName,
		"from_email":    business.FromEmail,
	}
}
