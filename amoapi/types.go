package amoapi

// Amo's v4 entity shapes. Create endpoints are bulk-only, so single
// creates go up as one-element arrays; the created ids come back under
// "_embedded".

type CustomFieldValue struct {
	FieldId int          `json:"field_id"`
	Values  []FieldValue `json:"values"`
}

type FieldValue struct {
	Value any `json:"value"`
}

// TextField builds a single-value custom field entry.
func TextField(fieldId int, value string) CustomFieldValue {
	return CustomFieldValue{
		FieldId: fieldId,
		Values:  []FieldValue{{Value: value}},
	}
}

type Lead struct {
	Id                int64              `json:"id,omitempty"`
	Name              string             `json:"name,omitempty"`
	Price             int64              `json:"price,omitempty"`
	StatusId          int                `json:"status_id,omitempty"`
	PipelineId        int                `json:"pipeline_id,omitempty"`
	ResponsibleUserId int                `json:"responsible_user_id,omitempty"`
	CustomFields      []CustomFieldValue `json:"custom_fields_values,omitempty"`
}

type Contact struct {
	Id                int64              `json:"id,omitempty"`
	Name              string             `json:"name,omitempty"`
	ResponsibleUserId int                `json:"responsible_user_id,omitempty"`
	CustomFields      []CustomFieldValue `json:"custom_fields_values,omitempty"`
}

type Company struct {
	Id                int64              `json:"id,omitempty"`
	Name              string             `json:"name,omitempty"`
	ResponsibleUserId int                `json:"responsible_user_id,omitempty"`
	CustomFields      []CustomFieldValue `json:"custom_fields_values,omitempty"`
}

type PipelineStatus struct {
	Id         int    `json:"id"`
	Name       string `json:"name"`
	PipelineId int    `json:"pipeline_id"`
}

type Pipeline struct {
	Id       int    `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Statuses []PipelineStatus `json:"statuses"`
	} `json:"_embedded"`
}

type User struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

type createdEnvelope struct {
	Embedded struct {
		Leads []struct {
			Id int64 `json:"id"`
		} `json:"leads"`
		Contacts []struct {
			Id int64 `json:"id"`
		} `json:"contacts"`
		Companies []struct {
			Id int64 `json:"id"`
		} `json:"companies"`
	} `json:"_embedded"`
}

type pipelinesEnvelope struct {
	Embedded struct {
		Pipelines []Pipeline `json:"pipelines"`
	} `json:"_embedded"`
}

type usersEnvelope struct {
	Embedded struct {
		Users []User `json:"users"`
	} `json:"_embedded"`
}
