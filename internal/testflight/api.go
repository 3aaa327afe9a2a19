// Copyright 2025 SirSeer, LLC
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://mariadb.com/bsl11
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testflight

import (
	"encoding/json"
	"time"
)

// JSON:API documents returned by App Store Connect. Only the fields the
// relay reads are modeled.

type document struct {
	Data     []resource `json:"data"`
	Included []resource `json:"included"`
	Links    links      `json:"links"`
}

type singleDocument struct {
	Data resource `json:"data"`
}

type links struct {
	Next string `json:"next"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type relationship struct {
	Data *identifier `json:"data"`
}

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// related returns the id of the to-one relationship name, if present.
func (r resource) related(name string) string {
	rel, ok := r.Relationships[name]
	if !ok || rel.Data == nil {
		return ""
	}
	return rel.Data.ID
}

// submissionAttributes covers both betaFeedbackCrashSubmissions and
// betaFeedbackScreenshotSubmissions.
type submissionAttributes struct {
	CreatedDate             time.Time        `json:"createdDate"`
	Comment                 string           `json:"comment"`
	Email                   string           `json:"email"`
	DeviceModel             string           `json:"deviceModel"`
	OSVersion               string           `json:"osVersion"`
	Locale                  string           `json:"locale"`
	TimeZone                string           `json:"timeZone"`
	Architecture            string           `json:"architecture"`
	ConnectionType          string           `json:"connectionType"`
	PairedAppleWatch        string           `json:"pairedAppleWatch"`
	AppUptimeInMilliseconds int64            `json:"appUptimeInMilliseconds"`
	DiskBytesAvailable      int64            `json:"diskBytesAvailable"`
	BatteryPercentage       int              `json:"batteryPercentage"`
	ScreenWidthInPoints     int              `json:"screenWidthInPoints"`
	ScreenHeightInPoints    int              `json:"screenHeightInPoints"`
	DeviceFamily            string           `json:"deviceFamily"`
	BuildBundleID           string           `json:"buildBundleId"`
	Screenshots             []screenshotFile `json:"screenshots"`
}

type screenshotFile struct {
	URL            string    `json:"url"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	ExpirationDate time.Time `json:"expirationDate"`
}

type buildAttributes struct {
	Version string `json:"version"`
}

type testerAttributes struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type versionAttributes struct {
	Version string `json:"version"`
}

type crashLogAttributes struct {
	LogText string `json:"logText"`
}

type appAttributes struct {
	Name     string `json:"name"`
	BundleID string `json:"bundleId"`
}

// errorDocument is the JSON:API error envelope.
type errorDocument struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (d errorDocument) message() string {
	if len(d.Errors) == 0 {
		return ""
	}
	e := d.Errors[0]
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}
