package common

import (
	"fmt"
	"math"
)

type LTypeId int

const (
	LTID_INVALID LTypeId = 0
	LTID_BIGINT  LTypeId = 14
	LTID_DOUBLE  LTypeId = 23
	LTID_VARCHAR LTypeId = 25
	LTID_ENUM    LTypeId = 104
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID: "LTID_INVALID",
	LTID_BIGINT:  "LTID_BIGINT",
	LTID_DOUBLE:  "LTID_DOUBLE",
	LTID_VARCHAR: "LTID_VARCHAR",
	LTID_ENUM:    "LTID_ENUM",
}

func (id LTypeId) String() string {
	if s, has := lTypeIdToStr[id]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", id))
}

// IsInt reports kinds whose values live in int64 slots.
func (id LTypeId) IsInt() bool {
	return id == LTID_BIGINT || id == LTID_ENUM
}

// IsKeyable reports kinds that can be radix ordered.
func (id LTypeId) IsKeyable() bool {
	return id == LTID_BIGINT || id == LTID_DOUBLE || id == LTID_ENUM
}

const (
	// missing value in the int64 wire form of a column.
	NAInt64 int64 = math.MinInt64
)

// NADouble is the missing value in the float64 wire form of a column.
func NADouble() float64 {
	return math.NaN()
}

func IsNADouble(v float64) bool {
	return math.IsNaN(v)
}
