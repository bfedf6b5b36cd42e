//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package chunk

import (
	"bytes"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("page", func() {

	ginkgo.It("stores and returns tuples in slot order", func() {
		p := NewPage()
		Ω(p.NumTuples()).Should(Equal(0))

		t0 := []byte("first tuple")
		t1 := []byte("second")
		Ω(p.AddTuple(t0)).Should(BeTrue())
		Ω(p.AddTuple(t1)).Should(BeTrue())

		Ω(p.NumTuples()).Should(Equal(2))
		Ω(bytes.Equal(p.Tuple(0), t0)).Should(BeTrue())
		Ω(bytes.Equal(p.Tuple(1), t1)).Should(BeTrue())
	})

	ginkgo.It("shrinks free space as tuples are added", func() {
		p := NewPage()
		before := p.FreeSpace()
		Ω(p.AddTuple(make([]byte, 100))).Should(BeTrue())
		Ω(p.FreeSpace()).Should(Equal(before - 100 - pageSlotSize))
	})

	ginkgo.It("rejects a tuple that does not fit", func() {
		p := NewPage()
		Ω(p.AddTuple(make([]byte, PageSize))).Should(BeFalse())

		// Fill the page with fixed size tuples, then one more must fail.
		tuple := make([]byte, 1000)
		added := 0
		for p.AddTuple(tuple) {
			added++
		}
		Ω(added).Should(Equal(8))
		Ω(p.NumTuples()).Should(Equal(8))
	})

	ginkgo.It("round trips through raw bytes", func() {
		p := NewPage()
		Ω(p.AddTuple([]byte("payload"))).Should(BeTrue())

		clone, err := PageFromBytes(p.Bytes())
		Ω(err).Should(BeNil())
		Ω(clone.NumTuples()).Should(Equal(1))
		Ω(bytes.Equal(clone.Tuple(0), []byte("payload"))).Should(BeTrue())
	})

	ginkgo.It("rejects raw bytes of the wrong size", func() {
		_, err := PageFromBytes(make([]byte, PageSize-1))
		Ω(err).ShouldNot(BeNil())
	})
})
