// 文件: pkg/sim/names.go
// 合成交易员名字生成器
//
// 名字只是让日志和报表可读，不参与任何逻辑。
// 用注入的 *rand.Rand 采样，固定种子出同一批名字

package sim

import (
	"fmt"
	"math/rand"
)

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer",
	"Michael", "Linda", "David", "Elizabeth", "William", "Barbara",
	"Richard", "Susan", "Joseph", "Jessica", "Thomas", "Sarah",
	"Charles", "Karen", "Daniel", "Lisa", "Matthew", "Nancy",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia",
	"Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez",
	"Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore",
	"Jackson", "Martin", "Lee", "Thompson", "White", "Harris",
}

// NameGenerator 名字生成器
type NameGenerator struct {
	rng *rand.Rand
}

// NewNameGenerator 创建生成器
func NewNameGenerator(rng *rand.Rand) *NameGenerator {
	return &NameGenerator{rng: rng}
}

// FullName 随机一个全名
func (g *NameGenerator) FullName() string {
	return fmt.Sprintf("%s %s",
		firstNames[g.rng.Intn(len(firstNames))],
		lastNames[g.rng.Intn(len(lastNames))])
}

// UniqueNames 采样 n 个互不重复的全名
//
// n 必须不超过组合总数，否则永远凑不齐
func (g *NameGenerator) UniqueNames(n int) []string {
	if max := len(firstNames) * len(lastNames); n > max {
		n = max
	}

	seen := make(map[string]struct{}, n)
	names := make([]string, 0, n)
	for len(names) < n {
		name := g.FullName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
