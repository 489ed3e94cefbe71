package backend

// StartRequest opens a workflow session.
type StartRequest struct {
	AgentID string `json:"agent_id"`
	Prompt  string `json:"prompt"`
}

type StartResponse struct {
	SessionID        string `json:"session_id"`
	BrandSuggestions string `json:"brand_suggestions"`
}

// ContinueRequest carries the session id issued by StartWorkflow.
type ContinueRequest struct {
	SessionID     string `json:"session_id"`
	SelectedBrand string `json:"selected_brand"`
}

type ContinueResponse struct {
	Caption    string         `json:"caption"`
	ImagePath  string         `json:"image_path"`
	PostResult map[string]any `json:"post_result,omitempty"`
}

type PublishRequest struct {
	AgentID       string   `json:"agent_id"`
	Caption       string   `json:"caption"`
	Images        []string `json:"images"`
	ScheduledTime string   `json:"scheduled_time,omitempty"`
}

type PublishResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Succeeded reports the backend's own success marker.
func (r PublishResponse) Succeeded() bool { return r.Status == "success" }

type StatusResponse struct {
	AccessTokenStatus string `json:"access_token_status"`
	PermissionsOK     bool   `json:"permissions_ok"`
}
