package flux

// RunwareRequest - one imageInference task
type RunwareRequest struct {
	TaskType        string   `json:"taskType"`
	TaskUUID        string   `json:"taskUUID"`
	PositivePrompt  string   `json:"positivePrompt"`
	NegativePrompt  string   `json:"negativePrompt,omitempty"`
	Model           string   `json:"model"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	NumberResults   int      `json:"numberResults"`
	OutputFormat    string   `json:"outputFormat"`
	Steps           int      `json:"steps,omitempty"`
	CFGScale        float64  `json:"CFGScale,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
}

// RunwareResponse - Runware API response envelope
type RunwareResponse struct {
	Data []struct {
		TaskType  string `json:"taskType"`
		TaskUUID  string `json:"taskUUID"`
		ImageURL  string `json:"imageURL"`
		ImageUUID string `json:"imageUUID"`
		Seed      int64  `json:"seed,omitempty"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
	Error string `json:"error,omitempty"`
}
