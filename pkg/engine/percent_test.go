// 文件: pkg/engine/percent_test.go

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent_Of(t *testing.T) {
	assert.Equal(t, 50.0, NewPercent(5).Of(1000))
	assert.Equal(t, 100.0, NewPercent(10).Of(1000))
	assert.Equal(t, 0.0, NewPercent(0).Of(1000))
	assert.Equal(t, -120.0, NewPercent(12).Of(-1000))
	assert.Equal(t, 1.0, NewPercent(1).Of(100))
}

func TestPercent_Value(t *testing.T) {
	assert.Equal(t, 80.0, NewPercent(80).Value())
	assert.Equal(t, "80%", NewPercent(80).String())
	assert.Equal(t, "2.5%", NewPercent(2.5).String())
}

func TestPosition_Leverage(t *testing.T) {
	p := &Position{Collateral: 100, Principal: 1000}
	assert.Equal(t, 10.0, p.Leverage())

	// 零保证金不除零
	p = &Position{Collateral: 0, Principal: 1000}
	assert.Equal(t, 0.0, p.Leverage())
}

func TestPositionStatus_String(t *testing.T) {
	assert.Equal(t, "OPEN", StatusOpen.String())
	assert.Equal(t, "CLOSED", StatusClosed.String())
	assert.Equal(t, "LIQUIDATED", StatusLiquidated.String())
}
