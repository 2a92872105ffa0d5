// Package handlers implements the JSON API: validation, duplicate
// checks, survey uploads and the checkpoint endpoints.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/compdesk/survey-intake/internal/fileparse"
	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/upload"
)

// maxUploadBytes caps multipart uploads at 64MB, past any plausible
// survey workbook.
const maxUploadBytes = 64 << 20

// tableBody is the JSON alternative to a multipart file upload: the
// client sends an already-parsed table plus its metadata.
type tableBody struct {
	Name     string             `json:"name"`
	Actor    string             `json:"actor"`
	Metadata normalize.Metadata `json:"metadata"`
	Table    *fileparse.Table   `json:"table"`
}

// decodeUploadRequest accepts either a multipart form with a "file" part
// and metadata fields, or a JSON body carrying an inline table.
func decodeUploadRequest(r *http.Request) (upload.Request, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return decodeMultipart(r)
	}

	var body tableBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return upload.Request{}, eris.Wrap(err, "invalid JSON body")
	}
	if body.Table == nil {
		return upload.Request{}, eris.New("table is required")
	}
	fileName := body.Name
	if fileName == "" {
		fileName = "inline table"
	}
	return upload.Request{
		FileName: fileName,
		Name:     body.Name,
		Table:    body.Table,
		Metadata: body.Metadata,
		Actor:    body.Actor,
	}, nil
}

func decodeMultipart(r *http.Request) (upload.Request, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return upload.Request{}, eris.Wrap(err, "invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return upload.Request{}, eris.Wrap(err, "file part is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return upload.Request{}, eris.Wrap(err, "failed to read file")
	}
	if len(data) > maxUploadBytes {
		return upload.Request{}, eris.Errorf("file exceeds %d bytes", maxUploadBytes)
	}

	year, _ := strconv.Atoi(r.FormValue("year"))
	return upload.Request{
		FileName:  header.Filename,
		FileBytes: data,
		Name:      r.FormValue("name"),
		Actor:     r.FormValue("actor"),
		Metadata: normalize.Metadata{
			Source:       r.FormValue("source"),
			DataCategory: r.FormValue("data_category"),
			ProviderType: r.FormValue("provider_type"),
			Year:         year,
			SurveyLabel:  r.FormValue("survey_label"),
		},
	}, nil
}

// parseTable fills in req.Table from the file bytes when the client sent
// a raw file.
func parseTable(req *upload.Request) error {
	if req.Table != nil {
		return nil
	}
	table, err := fileparse.Parse(req.FileName, req.FileBytes)
	if err != nil {
		return err
	}
	req.Table = &table
	return nil
}

// forceParam reports whether the request asked to override duplicate
// blocking.
func forceParam(r *http.Request) bool {
	v := r.URL.Query().Get("force")
	return v == "1" || v == "true"
}
