package model

// GenericRecord is a schema-agnostic row from a record source
type GenericRecord map[string]interface{}

// Page is a slice of a completed report read through the index
type Page struct {
	JobID     string     `json:"jobID"`
	PageIndex int        `json:"pageIndex"`
	PageSize  int        `json:"pageSize"`
	Header    []string   `json:"header"`
	Rows      [][]string `json:"rows"`
	Totals    []string   `json:"totals,omitempty"` // only on the last page
	LastPage  bool       `json:"lastPage"`
	PageCount int        `json:"pageCount"`
}
