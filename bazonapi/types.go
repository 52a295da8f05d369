package bazonapi

import "encoding/json"

// SaleDocumentPayload is one sale document as returned by the external
// API listing. Field names follow the upstream wire format.
type SaleDocumentPayload struct {
	Id             int64       `json:"id"`
	Number         string      `json:"number"`
	Type           string      `json:"type"`
	Status         string      `json:"status"`
	Sum            json.Number `json:"sum"`
	StorageId      int         `json:"storage_id"`
	ContractorId   int64       `json:"contractor_id"`
	ContractorName string      `json:"contractor_name"`
	ManagerId      int         `json:"manager_id"`
	ManagerName    string      `json:"manager_name"`
}

// ContractorPayload is one contractor as returned by the external API.
type ContractorPayload struct {
	Id    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Inn   string `json:"inn"`
}

// saleDocumentsEnvelope matches the external API's listing nesting:
// {"response": [{"result": {"sale_documents": [...]}}]}.
type saleDocumentsEnvelope struct {
	Response []struct {
		Result struct {
			SaleDocuments []SaleDocumentPayload `json:"sale_documents"`
		} `json:"result"`
	} `json:"response"`
}

type contractorsEnvelope struct {
	Response []struct {
		Result struct {
			Contractors []ContractorPayload `json:"contractors"`
		} `json:"result"`
	} `json:"response"`
}

// SaleItem is one buffer item for saleAddItems / getDocumentItemsByBuffer.
type SaleItem struct {
	Id              int64       `json:"id"`
	ObjectID        string      `json:"objectID"`
	ObjectType      string      `json:"objectType"`
	Name            string      `json:"name"`
	Amount          json.Number `json:"amount,omitempty"`
	Price           json.Number `json:"price,omitempty"`
	Cost            json.Number `json:"cost,omitempty"`
	StorageID       string      `json:"storageID"`
	Order           int         `json:"order"`
	AvailableAmount string      `json:"availableAmount,omitempty"`
}

// SaleBuffer is the document header for saleCreate.
type SaleBuffer struct {
	Sum            json.Number `json:"sum,omitempty"`
	Type           string      `json:"type"`
	State          string      `json:"state"`
	ContractorID   int64       `json:"contractorID"`
	StorageID      int         `json:"storageID"`
	ShipmentID     int         `json:"shipmentID"`
	TransportID    int         `json:"transportID"`
	ManagerComment string      `json:"managerComment"`
	Paid           json.Number `json:"paid,omitempty"`
	Number         string      `json:"number"`
	Id             string      `json:"id"`
	SumFull        json.Number `json:"sumFull,omitempty"`
	ManagerID      int         `json:"managerID"`
	Source         string      `json:"source"`
}

// Payment describes one payment (or reversal) applied to a document.
type Payment struct {
	PaySource int     `json:"paySource"`
	PaySum    float64 `json:"paySum"`
	Comment   string  `json:"comment,omitempty"`
}

// ItemsQuery narrows the frontend getProducts listing.
type ItemsQuery struct {
	Offset      int
	Limit       int
	CategoryId  int
	StorageIds  []int
	WithReserve bool
	Search      string
}
