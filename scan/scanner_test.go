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

package scan

import (
	"sync"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/codegen"
	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/diskstore"
	"github.com/uber/gpuscan/expr"
)

const fixtureRows = 10000

func mustParse(s string) expr.Expr {
	e, err := expr.ParseExpr(s)
	if err != nil {
		panic(err)
	}
	return e
}

func newTestMem() *devicemem.Manager {
	return devicemem.NewManager(devicemem.Config{
		NumDevices:     2,
		DeviceCapacity: 64 << 20,
		BulkCapacity:   64 << 20,
	})
}

// drain pulls the whole scan and returns the id column of every result
// row, keyed by value so cross chunk ordering does not matter.
func drain(s *Scanner, idPos int) (map[int64]int, error) {
	ids := make(map[int64]int)
	for {
		vals, ok, err := s.NextTuple()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		ids[vals[idPos].IntVal]++
	}
}

// expectedIDs evaluates pred on the host over the fixture rows, the
// same three valued way the re-evaluator does.
func expectedIDs(pred expr.Expr, params map[string]expr.Value) map[int64]int {
	ids := make(map[int64]int)
	for i := 0; i < fixtureRows; i++ {
		row := expr.ColumnValueMap{
			"id":  expr.IntValue(int64(i)),
			"age": expr.IntValue(int64(i % 100)),
		}
		for k, v := range params {
			row[k] = v
		}
		if pred == nil {
			ids[int64(i)] = 1
			continue
		}
		if pass, err := expr.EvaluateBool(pred, row); err == nil && pass {
			ids[int64(i)] = 1
		}
	}
	return ids
}

var _ = ginkgo.Describe("Scanner", func() {
	schema := peopleSchema()

	newStore := func(bulk bool) *diskstore.MemBlockStore {
		return diskstore.NewMemBlockStore(peoplePages(schema, fixtureRows, 50), 8, bulk)
	}

	ginkgo.It("returns exactly the qualifying rows", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
		Ω(ids).Should(Equal(expectedIDs(mustParse("age > 30"), nil)))
	})

	ginkgo.It("accounts for every source row", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(int64(len(ids)) + s.Stats().RowsFiltered).Should(Equal(int64(fixtureRows)))
	})

	ginkgo.It("passes every row without a predicate", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(fixtureRows))
		Ω(s.Stats().RowsFiltered).Should(Equal(int64(0)))
	})

	ginkgo.It("binds parameters at plan time", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > minAge"),
			Params:    map[string]expr.Value{"minAge": expr.IntValue(30)},
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
	})

	ginkgo.It("ends immediately over an empty table", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Store:     diskstore.NewMemBlockStore(nil, 8, false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		_, ok, err := s.NextTuple()
		Ω(err).Should(BeNil())
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("covers the whole table from a nonzero start block", func() {
		s, err := NewScanner(Config{
			Schema:     schema,
			Predicate:  mustParse("age > 30"),
			Store:      newStore(false),
			Mem:        newTestMem(),
			RowFormat:  true,
			StartBlock: 37,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
	})

	ginkgo.It("produces the same rows again after a rewind", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 97"),
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		first, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(s.Rewind()).Should(BeNil())
		second, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(second).Should(Equal(first))
		Ω(first).Should(HaveLen(200))
	})

	ginkgo.It("materializes projected outputs", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 97"),
			Projection: []codegen.OutputColumn{
				{Name: "id", Expr: mustParse("id")},
				{Name: "double_age", Expr: mustParse("age * 2")},
			},
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		seen := 0
		for {
			vals, ok, err := s.NextTuple()
			Ω(err).Should(BeNil())
			if !ok {
				break
			}
			seen++
			Ω(vals).Should(HaveLen(2))
			Ω(vals[1].IntVal).Should(BeNumerically(">", 194))
			Ω(vals[1].IntVal % 2).Should(Equal(int64(0)))
		}
		Ω(seen).Should(Equal(200))
	})

	ginkgo.It("scans raw block chunks over bulk capable storage", func() {
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Store:     newStore(true),
			Mem:       newTestMem(),
			RowFormat: false,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
	})

	ginkgo.It("recovers from destination overflow through the host path", func() {
		// One expected row per block grossly undersizes the destination
		// for 50 tuple pages, forcing the kernel out of space.
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Projection: []codegen.OutputColumn{
				{Name: "id", Expr: mustParse("id")},
			},
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: false,
			Scan:      common.ScanConfig{RowsPerBlock: 1},
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
		Ω(s.Stats().FallbackTasks).Should(BeNumerically(">", int64(0)))
	})

	ginkgo.It("re-evaluates on the host when the device cannot decide", func() {
		// age == 31 divides by zero on the device, so every task holding
		// such a row comes back for a host re-check. The host treats the
		// zero divisor as null, which fails the predicate.
		pred := mustParse("100 / (age - 31) > 2")
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: pred,
			Store:     newStore(false),
			Mem:       newTestMem(),
			RowFormat: true,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(Equal(expectedIDs(pred, nil)))
		Ω(s.Stats().FallbackTasks).Should(BeNumerically(">", int64(0)))
	})

	ginkgo.It("rejects a predicate the device cannot evaluate", func() {
		_, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("host_only(age)"),
			Store:     newStore(false),
			Mem:       newTestMem(),
		})
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("rejects string ordering between text columns", func() {
		// Neither operand is a literal; only the column types reveal the
		// string comparison.
		names := chunk.NewSchema(9, []chunk.Column{
			{Name: "first", Type: chunk.Text},
			{Name: "last", Type: chunk.Text},
		})
		_, err := NewScanner(Config{
			Schema:    names,
			Predicate: mustParse("first < last"),
			Store:     diskstore.NewMemBlockStore(nil, 8, false),
			Mem:       newTestMem(),
		})
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("completes a bulk scan when the bulk transfer pool is exhausted", func() {
		// Every chunk image is larger than the bulk pool, so each task
		// must downgrade to a host resident copy.
		mem := devicemem.NewManager(devicemem.Config{
			NumDevices:     1,
			DeviceCapacity: 64 << 20,
			BulkCapacity:   4 << 10,
		})
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Store:     newStore(true),
			Mem:       mem,
			RowFormat: false,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(Equal(expectedIDs(mustParse("age > 30"), nil)))
		Ω(s.Stats().FallbackTasks).Should(Equal(int64(0)))
	})

	ginkgo.It("re-checks on the host after a bulk transfer left pages on the device", func() {
		// age == 31 divides by zero on the device, so tasks come back
		// for a host re-check. The re-check reads the source pages the
		// bulk transfer landed device side only.
		pred := mustParse("100 / (age - 31) > 2")
		s, err := NewScanner(Config{
			Schema:    schema,
			Predicate: pred,
			Store:     newStore(true),
			Mem:       newTestMem(),
			RowFormat: false,
		})
		Ω(err).Should(BeNil())
		defer s.Close()

		ids, err := drain(s, 0)
		Ω(err).Should(BeNil())
		Ω(ids).Should(Equal(expectedIDs(pred, nil)))
		Ω(s.Stats().FallbackTasks).Should(BeNumerically(">", int64(0)))
	})

	ginkgo.It("matches the sequential result when run with parallel workers", func() {
		cfg := Config{
			Schema:    schema,
			Predicate: mustParse("age > 30"),
			Store:     newStore(true),
			Mem:       newTestMem(),
			RowFormat: false,
			Scan:      common.ScanConfig{Workers: 4},
		}
		s, err := NewScanner(cfg)
		Ω(err).Should(BeNil())
		defer s.Close()

		var mu sync.Mutex
		ids := make(map[int64]int)
		err = s.RunParallel(4, func(row []expr.Value) error {
			mu.Lock()
			ids[row[0].IntVal]++
			mu.Unlock()
			return nil
		})
		Ω(err).Should(BeNil())
		Ω(ids).Should(HaveLen(6900))
		for _, n := range ids {
			Ω(n).Should(Equal(1))
		}
	})
})
