// Package utils 提供雪花 ID 与日期工具
package utils

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 雪花 ID 生成器
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator 创建雪花 ID 生成器，nodeID 取值 0-1023
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// MustIDGenerator 创建失败时 panic，仅用于初始化
func MustIDGenerator(nodeID int64) *IDGenerator {
	g, err := NewIDGenerator(nodeID)
	if err != nil {
		panic(err)
	}
	return g
}

// Next 生成带前缀的字符串 ID，例如 TXN1790000000000000000
func (g *IDGenerator) Next(prefix string) string {
	return prefix + g.node.Generate().String()
}

// StartOfDay 取 UTC 自然日零点
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate 解析 2006-01-02 或 RFC3339
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
