package models

// StowRequest is the body of POST /servers/{name}/stow. Resources are
// archive IDs of patients, studies, series or instances.
type StowRequest struct {
	Resources   []string          `json:"Resources" validate:"required,min=1,dive,required"`
	HttpHeaders map[string]string `json:"HttpHeaders,omitempty"`
}

// GetRequest is the body of POST /servers/{name}/get
type GetRequest struct {
	Uri         string            `json:"Uri" validate:"required"`
	Arguments   map[string]string `json:"Arguments,omitempty"`
	HttpHeaders map[string]string `json:"HttpHeaders,omitempty"`
}

// RetrieveResource designates a study, a series or an instance on a
// remote server
type RetrieveResource struct {
	Study    string `json:"Study" validate:"required"`
	Series   string `json:"Series,omitempty" validate:"required_with=Instance"`
	Instance string `json:"Instance,omitempty"`
}

// RetrieveRequest is the body of POST /servers/{name}/retrieve
type RetrieveRequest struct {
	Resources   []RetrieveResource `json:"Resources" validate:"required,min=1,dive"`
	HttpHeaders map[string]string  `json:"HttpHeaders,omitempty"`
}

// RetrieveAnswer lists the archive IDs of the retrieved instances
type RetrieveAnswer struct {
	Instances []string `json:"Instances"`
}
