package types

// Detection is one object reported by the detector service.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       Region  `json:"bbox"`
}

// DetectionResult is the detector service response.
type DetectionResult struct {
	FrameNumber   int         `json:"frame_number"`
	Timestamp     float64     `json:"timestamp"`
	NumDetections int         `json:"num_detections"`
	Version       int         `json:"version"`
	Detections    []Detection `json:"detections"`
}
