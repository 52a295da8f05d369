package amosync

import (
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateContactPushesOnlyMappedFields(t *testing.T) {
	account := &models.AmoAccount{
		FieldsJSON: []byte(`{"contact_phone_field":1234}`),
	}
	contractor := &models.Contractor{
		Name:  "Ivanov",
		Phone: "+7 900 000-00-00",
		Email: "ivanov@example.com",
	}

	contact := translateContractorToContact(account, contractor)
	assert.Equal(t, "Ivanov", contact.Name)

	// Email field id is unmapped, so only the phone goes up.
	require.Len(t, contact.CustomFields, 1)
	assert.Equal(t, 1234, contact.CustomFields[0].FieldId)
	assert.Equal(t, "+7 900 000-00-00", contact.CustomFields[0].Values[0].Value)
}

func TestTranslateCompanyRequiresMappedInn(t *testing.T) {
	contractor := &models.Contractor{Name: "Ivanov", Inn: "7707083893"}

	_, ok := translateContractorToCompany(&models.AmoAccount{}, contractor)
	assert.False(t, ok, "no inn field mapped")

	account := &models.AmoAccount{FieldsJSON: []byte(`{"company_inn_field":55}`)}
	_, ok = translateContractorToCompany(account, &models.Contractor{Name: "NoInn"})
	assert.False(t, ok, "contractor carries no inn")

	company, ok := translateContractorToCompany(account, contractor)
	require.True(t, ok)
	assert.Equal(t, "Ivanov", company.Name)
	require.Len(t, company.CustomFields, 1)
	assert.Equal(t, 55, company.CustomFields[0].FieldId)
	assert.Equal(t, "7707083893", company.CustomFields[0].Values[0].Value)
}
