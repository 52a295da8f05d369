package amosync

import (
	"fmt"

	"bitbucket.org/kontrabaz/amobazon_backend/amoapi"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"gorm.io/gorm"
)

// translateDocumentToLead builds the Amo lead payload for one mirrored
// document. Status and responsible user come from the operator-maintained
// mapping tables; an unmapped value drops the field rather than failing.
func translateDocumentToLead(db *gorm.DB, account *models.AmoAccount, doc *models.SaleDocument) (amoapi.Lead, error) {
	lead := amoapi.Lead{
		Name:  fmt.Sprintf("Сделка с Bazon №%s", doc.Number),
		Price: doc.Sum.IntPart(),
	}

	status, err := models.FindStatusByBazonStatus(db, account.ID, doc.Status)
	if err != nil {
		return lead, err
	}
	if status != nil {
		lead.StatusId = status.AmoId
		lead.PipelineId = status.PipelineId
	}

	manager, err := models.FindManagerByBazonId(db, account.ID, doc.ManagerId)
	if err != nil {
		return lead, err
	}
	if manager != nil {
		lead.ResponsibleUserId = manager.AmoId
	}

	if fields := account.Fields(); fields.BazonField != 0 {
		lead.CustomFields = append(lead.CustomFields,
			amoapi.TextField(fields.BazonField, doc.Number))
	}
	return lead, nil
}

// translateContractorToContact builds the Amo contact payload for one
// contractor shadow. Custom-field ids come from the tenant config; a zero
// id means the value is not pushed.
func translateContractorToContact(account *models.AmoAccount, contractor *models.Contractor) amoapi.Contact {
	contact := amoapi.Contact{Name: contractor.Name}
	fields := account.Fields()
	if fields.ContactPhoneField != 0 && contractor.Phone != "" {
		contact.CustomFields = append(contact.CustomFields,
			amoapi.TextField(fields.ContactPhoneField, contractor.Phone))
	}
	if fields.ContactEmailField != 0 && contractor.Email != "" {
		contact.CustomFields = append(contact.CustomFields,
			amoapi.TextField(fields.ContactEmailField, contractor.Email))
	}
	return contact
}

// translateContractorToCompany builds the company payload for contractors
// that carry a tax number. Only pushed when the tenant mapped the INN field.
func translateContractorToCompany(account *models.AmoAccount, contractor *models.Contractor) (amoapi.Company, bool) {
	fields := account.Fields()
	if fields.CompanyInnField == 0 || contractor.Inn == "" {
		return amoapi.Company{}, false
	}
	company := amoapi.Company{Name: contractor.Name}
	company.CustomFields = append(company.CustomFields,
		amoapi.TextField(fields.CompanyInnField, contractor.Inn))
	if fields.CompanyPhoneField != 0 && contractor.Phone != "" {
		company.CustomFields = append(company.CustomFields,
			amoapi.TextField(fields.CompanyPhoneField, contractor.Phone))
	}
	if fields.CompanyEmailField != 0 && contractor.Email != "" {
		company.CustomFields = append(company.CustomFields,
			amoapi.TextField(fields.CompanyEmailField, contractor.Email))
	}
	return company, true
}
