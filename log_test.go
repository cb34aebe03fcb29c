// Copyright 2026 The Pictrl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pictrl

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/smartystreets/goconvey/convey"
)

func fill(l *Log, n int) {
	for i := 0; i < n; i++ {
		l.Append(LogLine{ID: int64(i%3) + 1, Text: strconv.Itoa(i) + "\n"})
	}
}

func TestLog(t *testing.T) {
	Convey("Given a log limited to 100 lines", t, func() {
		l := NewLog(100)
		So(l.Limit(), ShouldEqual, 100)
		So(l.Len(), ShouldEqual, 0)

		Convey("Older lines are evicted first", func() {
			fill(l, 150)
			So(l.Len(), ShouldEqual, 100)
			lines := l.Lines()
			So(lines[0].Text, ShouldEqual, "50\n")
			So(lines[99].Text, ShouldEqual, "149\n")
		})

		Convey("Text selects one process", func() {
			fill(l, 6)
			So(l.Text(1), ShouldEqual, "0\n3")
			So(l.Text(AllIDs), ShouldEqual, "0\n1\n2\n3\n4\n5")
			So(l.Text(42), ShouldEqual, "")
		})

		Convey("Serial moves with every append", func() {
			s0 := l.Serial()
			fill(l, 1)
			s1 := l.Serial()
			So(s1, ShouldNotEqual, s0)

			recs, s := l.GetRecords(s1)
			So(recs, ShouldBeNil)
			So(s, ShouldEqual, s1)

			recs, s = l.GetRecords(s0)
			So(len(recs), ShouldEqual, 1)
			So(s, ShouldEqual, s1)
		})

		Convey("Watch wakes up on append", func() {
			s0 := l.Serial()
			go func() {
				time.Sleep(50 * time.Millisecond)
				fill(l, 1)
			}()
			start := time.Now()
			s := l.Watch(s0, 5*time.Second)
			So(s, ShouldNotEqual, s0)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})

		Convey("Watch expires", func() {
			s0 := l.Serial()
			So(l.Watch(s0, 20*time.Millisecond), ShouldEqual, s0)
			So(l.Watch(s0, 0), ShouldEqual, s0)
		})
	})

	Convey("Concurrent appends keep each writer in order", t, func() {
		const writers, each = 8, 500
		l := NewLog(0)
		var wg sync.WaitGroup
		for w := 1; w <= writers; w++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					l.Append(LogLine{ID: id, Text: strconv.Itoa(i) + "\n"})
				}
			}(int64(w))
		}
		wg.Wait()
		So(l.Len(), ShouldEqual, writers*each)
		for w := 1; w <= writers; w++ {
			lines := l.ByID(int64(w))
			So(len(lines), ShouldEqual, each)
			inOrder := true
			for i, line := range lines {
				if line.Text != strconv.Itoa(i)+"\n" {
					inOrder = false
				}
			}
			So(inOrder, ShouldBeTrue)
		}
	})

	Convey("A negative limit is unbounded", t, func() {
		l := NewLog(-1)
		fill(l, 1000)
		So(l.Len(), ShouldEqual, 1000)
		So(l.Limit(), ShouldEqual, 0)
	})
}

func TestLogProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("keeps the last limit lines in order", prop.ForAll(
		func(limit, n int) bool {
			l := NewLog(limit)
			fill(l, n)
			want := n
			if limit > 0 && want > limit {
				want = limit
			}
			lines := l.Lines()
			if len(lines) != want {
				return false
			}
			for i, line := range lines {
				if line.Text != strconv.Itoa(n-want+i)+"\n" {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 150),
		gen.IntRange(0, 400),
	))

	properties.Property("ByID returns only that id, in order", prop.ForAll(
		func(n int, id int64) bool {
			l := NewLog(0)
			fill(l, n)
			var expect []string
			for i := 0; i < n; i++ {
				if int64(i%3)+1 == id {
					expect = append(expect, strconv.Itoa(i)+"\n")
				}
			}
			lines := l.ByID(id)
			if len(lines) != len(expect) {
				return false
			}
			for i, line := range lines {
				if line.ID != id || line.Text != expect[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 200),
		gen.Int64Range(1, 3),
	))

	properties.TestingRun(t)
}
