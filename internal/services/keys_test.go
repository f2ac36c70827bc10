package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildKeySkipsEmptyParts(t *testing.T) {
	assert.Equal(t, "quote:AAPL", BuildKey("quote", "AAPL"))
	assert.Equal(t, "quote:AAPL:1d", BuildKey("quote", "AAPL", "", "1d", ""))
	assert.Equal(t, "quote:AAPL:1d:abc", BuildKey("quote", "AAPL", "1d", "abc"))
}

func TestHashParamsIsDeterministicAcrossMapOrder(t *testing.T) {
	a := map[string]interface{}{"symbol": "AAPL", "range": "1d", "fields": []string{"open", "close"}}
	b := map[string]interface{}{"fields": []string{"open", "close"}, "range": "1d", "symbol": "AAPL"}

	assert.Equal(t, HashParams(a), HashParams(b))
	assert.Len(t, HashParams(a), 16)
}

func TestHashParamsDistinguishesValues(t *testing.T) {
	a := map[string]string{"range": "1d"}
	b := map[string]string{"range": "5d"}
	assert.NotEqual(t, HashParams(a), HashParams(b))
}

func TestHashParamsNestedStructs(t *testing.T) {
	type inner struct {
		Limit int
	}
	type query struct {
		Symbol string
		Page   inner
	}

	assert.Equal(t,
		HashParams(query{Symbol: "AAPL", Page: inner{Limit: 10}}),
		HashParams(query{Symbol: "AAPL", Page: inner{Limit: 10}}))
	assert.NotEqual(t,
		HashParams(query{Symbol: "AAPL", Page: inner{Limit: 10}}),
		HashParams(query{Symbol: "AAPL", Page: inner{Limit: 20}}))
}

func TestHashParamsCyclicReference(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	n := &node{Name: "a"}
	n.Next = n

	assert.Equal(t, CyclicHashSentinel, HashParams(n))
}

func TestHashParamsNil(t *testing.T) {
	assert.NotEmpty(t, HashParams(nil))
	assert.NotEqual(t, CyclicHashSentinel, HashParams(nil))
}
