package models

import "time"

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	ContentType string    `json:"contentType" msgpack:"contentType"`
	Size        int64     `json:"size" msgpack:"size"`
	UploadedAt  time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
}

// SelectedFile is the file currently chosen in a form. Its bytes live in
// storage under FileInfo.ID.
type SelectedFile struct {
	FileInfo
	// SuppliedType is the content type sent by the browser, possibly empty.
	SuppliedType string `json:"-" msgpack:"-"`
}

// PreviewRef is a revocable handle that lets the page render the selected
// file without a round trip to the prediction API.
type PreviewRef struct {
	Ref    string `json:"ref" msgpack:"ref"`
	FileID string `json:"-" msgpack:"-"`
	URL    string `json:"url" msgpack:"url"`
}
