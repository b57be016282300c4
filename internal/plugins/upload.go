package plugins

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ggonzalez94/swagcli/internal/hooks"
)

// RegisterUpload installs the file upload hook. On POST and PUT, form values
// written as @path are read from disk and sent as multipart file parts.
func RegisterUpload(reg *hooks.Registry) {
	reg.OnRequest("file_upload", uploadFiles)
}

func uploadFiles(_ context.Context, req *hooks.Request) (*hooks.Supplement, error) {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		return nil, nil
	}
	names := make([]string, 0, len(req.Form))
	for name := range req.Form {
		names = append(names, name)
	}
	sort.Strings(names)

	var files []hooks.File
	for _, name := range names {
		s, ok := req.Form[name].(string)
		if !ok || !strings.HasPrefix(s, "@") {
			continue
		}
		path := strings.TrimPrefix(s, "@")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", name, err)
		}
		ct := mime.TypeByExtension(filepath.Ext(path))
		if ct == "" {
			ct = "application/octet-stream"
		}
		files = append(files, hooks.File{Field: name, Filename: filepath.Base(path), ContentType: ct, Data: data})
	}
	if len(files) == 0 {
		return nil, nil
	}
	for _, f := range files {
		delete(req.Form, f.Field)
	}
	return &hooks.Supplement{Files: files}, nil
}
