// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couch

// typeJSON is the canonical JSON content type, matched both exactly and as
// the "+json" suffix family (e.g. "application/vnd.couchdb+json").
const typeJSON = "application/json"

// reservedNames may not be used as keys in a Config's placeholder map —
// they collide with methods or fields the Client itself exposes.
var reservedNames = map[string]bool{
	"url": true, "designDocument": true, "trustViewETags": true,
	"numRetries": true, "maxSockets": true, "cert": true, "key": true,
	"ca": true, "rejectUnauthorized": true,
	"request": true, "queryDesignDocument": true, "queryTemporaryView": true,
	"init": true, "quit": true, "on": true,
}
