/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileNotifier writes each message as a JSON file under dir, for local
// development and integration testing. Writes go to a temp file first and
// are renamed into place so a reader never observes a partially written
// notification.
type FileNotifier struct {
	dir string
}

// NewFileNotifier constructs a FileNotifier rooted at dir. The directory
// is created lazily on first Deliver rather than here, so construction
// never fails.
func NewFileNotifier(dir string) *FileNotifier {
	return &FileNotifier{dir: dir}
}

func (n *FileNotifier) Deliver(ctx context.Context, msg Message) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return retryable(fmt.Errorf("failed to create output directory: %w", err))
	}

	payload, err := json.MarshalIndent(struct {
		SubjectID string            `json:"subject_id"`
		Kind      Kind              `json:"kind"`
		Subject   string            `json:"subject"`
		Body      string            `json:"body"`
		Data      map[string]string `json:"data,omitempty"`
		SentAt    time.Time         `json:"sent_at"`
	}{msg.SubjectID, msg.Kind, msg.Subject, msg.Body, msg.Data, time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%d.json", msg.SubjectID, msg.Kind, time.Now().UnixNano())
	tmp := filepath.Join(n.dir, "."+name+".tmp")
	final := filepath.Join(n.dir, name)

	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return retryable(fmt.Errorf("failed to write temporary file: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		return retryable(fmt.Errorf("failed to finalize notification file: %w", err))
	}
	return nil
}
