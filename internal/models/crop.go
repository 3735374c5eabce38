package models

// CropInput holds the crop form values exactly as submitted. The same values
// are echoed back into the form after every POST.
type CropInput struct {
	Nitrogen    string `json:"nitrogen"`
	Phosphorus  string `json:"phosphorus"`
	Potassium   string `json:"potassium"`
	PH          string `json:"ph"`
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Rainfall    string `json:"rainfall"`
}

// Prediction is the outcome of one crop recommendation.
type Prediction struct {
	Crop  string `json:"crop,omitempty"`
	Error string `json:"error,omitempty"`
}

// Display returns the text shown in place of the prediction.
func (p Prediction) Display() string {
	if p.Error != "" {
		return "Error: " + p.Error
	}
	return p.Crop
}
