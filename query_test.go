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

import "testing"

// TestEncodeQueryScenario reproduces §8 scenario 3 verbatim.
func TestEncodeQueryScenario(t *testing.T) {
	q := NewQuery().
		Set("ascii", "blabla").
		Set("nønascïî", "nønascïî").
		Set("multiple", []any{"foo", "nønascïî"}).
		Set("iAmUndefined", nil)

	got, err := encodeQuery("http://h/p", q)
	if err != nil {
		t.Fatal(err)
	}
	want := "http://h/p?ascii=%22blabla%22" +
		"&n%C3%B8nasc%C3%AF%C3%AE=%22n%C3%B8nasc%C3%AF%C3%AE%22" +
		"&multiple=%22foo%22&multiple=%22n%C3%B8nasc%C3%AF%C3%AE%22"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestEncodeQueryAppendsToExistingQueryString(t *testing.T) {
	q := NewQuery().Set("b", "2")
	got, err := encodeQuery("http://h/p?a=1", q)
	if err != nil {
		t.Fatal(err)
	}
	if want := `http://h/p?a=1&b=%222%22`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeQueryStringPassthrough(t *testing.T) {
	got, err := encodeQuery("http://h/p", "foo=bar")
	if err != nil {
		t.Fatal(err)
	}
	if want := "http://h/p?foo=bar"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeQueryNil(t *testing.T) {
	got, err := encodeQuery("http://h/p", nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := "http://h/p"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
