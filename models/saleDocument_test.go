package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDiffReportsOnlyUpstreamOwnedChanges(t *testing.T) {
	leadId := int64(9001)
	mirror := SaleDocument{
		ID:           1,
		InternalId:   501,
		Number:       "501",
		Status:       BazonStatusNew,
		Sum:          decimal.RequireFromString("15000.00"),
		ContractorId: 7,
		AmoLeadId:    &leadId,
	}

	fresh := mirror
	fresh.ID = 0
	fresh.AmoLeadId = nil
	fresh.Status = BazonStatusIssued
	fresh.Sum = decimal.RequireFromString("15500.00")

	changes := mirror.Diff(&fresh)
	assert.Len(t, changes, 2)
	assert.Equal(t, BazonStatusIssued, changes["status"])
	assert.True(t, changes["sum"].(decimal.Decimal).Equal(decimal.RequireFromString("15500.00")))
}

func TestDiffIsEmptyForEqualState(t *testing.T) {
	mirror := SaleDocument{
		Number: "501",
		Status: BazonStatusNew,
		Sum:    decimal.RequireFromString("15000.00"),
	}
	fresh := mirror
	// Equal decimals with different exponents must not count as a change.
	fresh.Sum = decimal.RequireFromString("15000")

	assert.Empty(t, mirror.Diff(&fresh))
}

func TestApplyKeepsLeadLinkAndIds(t *testing.T) {
	leadId := int64(9001)
	mirror := SaleDocument{
		ID:         3,
		InternalId: 501,
		Status:     BazonStatusNew,
		AmoLeadId:  &leadId,
	}
	fresh := SaleDocument{
		InternalId: 501,
		Status:     BazonStatusIssued,
		Number:     "501",
	}

	mirror.Apply(&fresh)
	assert.Equal(t, BazonStatusIssued, mirror.Status)
	assert.Equal(t, uint(3), mirror.ID)
	assert.NotNil(t, mirror.AmoLeadId)
	assert.Equal(t, int64(9001), *mirror.AmoLeadId)
}

func TestAmoFieldsConfigDecodesPartially(t *testing.T) {
	account := AmoAccount{FieldsJSON: []byte(`{"contact_phone_field":1234,"bazon_field":77,"unknown":"x"}`)}
	fields := account.Fields()
	assert.Equal(t, 1234, fields.ContactPhoneField)
	assert.Equal(t, 77, fields.BazonField)
	assert.Zero(t, fields.CompanyInnField)

	empty := AmoAccount{}
	assert.Zero(t, empty.Fields().ContactPhoneField)
}
