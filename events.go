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

import (
	"net/http"

	"github.com/golang/glog"
)

// SuccessInfo is the payload of the client's successfulRequest lifecycle
// event (§4.F step 11, §4.I).
type SuccessInfo struct {
	URL            string
	RequestOptions *RequestOptions
	Response       *Response
}

// FailureInfo is the payload of the client's failedRequest lifecycle
// event. NumRetriesLeft is the retry budget remaining at the moment the
// failure became terminal (always 0 for an HTTP-level error, since those
// are never retried).
type FailureInfo struct {
	URL            string
	RequestOptions *RequestOptions
	Response       *Response
	Err            error
	NumRetriesLeft int
}

// listeners holds the client's registered lifecycle callbacks. All three
// slices are append-only after New and are read without locking from the
// request goroutine(s); callers should register listeners before issuing
// requests, mirroring the reference implementation's EventEmitter
// contract where listeners are normally attached once at setup time.
type listeners struct {
	request []func(*http.Request)
	success []func(SuccessInfo)
	failure []func(FailureInfo)
}

// OnRequest registers fn to be called once per outbound request (§4.F
// step 8), before dispatch.
func (c *Client) OnRequest(fn func(*http.Request)) {
	c.listeners.request = append(c.listeners.request, fn)
}

// OnSuccessfulRequest registers fn to be called after a request completes
// without an unrecovered error (§4.F step 11, §4.I).
func (c *Client) OnSuccessfulRequest(fn func(SuccessInfo)) {
	c.listeners.success = append(c.listeners.success, fn)
}

// OnFailedRequest registers fn to be called when a request fails
// terminally — retry budget exhausted, or an HTTP/parse error.
func (c *Client) OnFailedRequest(fn func(FailureInfo)) {
	c.listeners.failure = append(c.listeners.failure, fn)
}

func (c *Client) emitRequest(req *http.Request) {
	for _, fn := range c.listeners.request {
		safeCall(func() { fn(req) })
	}
}

func (c *Client) emitSuccess(info SuccessInfo) {
	for _, fn := range c.listeners.success {
		safeCall(func() { fn(info) })
	}
}

func (c *Client) emitFailure(info FailureInfo) {
	for _, fn := range c.listeners.failure {
		safeCall(func() { fn(info) })
	}
}

// safeCall recovers a panicking listener so one bad callback can't abort
// the request it's observing (spec §3 "Event").
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Warningf("couch: recovered panic in event listener: %v", r)
		}
	}()
	fn()
}
