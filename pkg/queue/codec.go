// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
)

// documentVersion is written into every slot. Version 0 is the bare JSON
// array written by older clients.
const documentVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type document struct {
	Version int                   `json:"version"`
	Records []models.QueuedRecord `json:"records"`
}

func encode(records []models.QueuedRecord) ([]byte, error) {
	if records == nil {
		records = []models.QueuedRecord{}
	}

	return json.Marshal(document{Version: documentVersion, Records: records})
}

func decode(raw []byte) ([]models.QueuedRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty queue document")
	}

	if trimmed[0] == '[' {
		var legacy []models.QueuedRecord
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, err
		}

		return legacy, nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported queue document version %d", doc.Version)
	}

	return doc.Records, nil
}
