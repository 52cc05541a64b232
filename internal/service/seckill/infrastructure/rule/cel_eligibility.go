// internal/service/seckill/infrastructure/rule/cel_eligibility.go
package rule

import (
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"seckill/internal/service/seckill/domain"
)

// CELEligibilityRule 用一条 CEL 表达式判断商品是否可以进入秒杀窗口。
// 表达式在创建时编译一次，之后的求值可以并发进行。
//
// 可用变量: goods_id, sku_id, stock (int), sale_start, sale_end, now (timestamp)。
type CELEligibilityRule struct {
	expr    string
	program cel.Program
}

// NewCELEligibilityRule 编译表达式，语法错误或结果不是 bool 时返回错误。
func NewCELEligibilityRule(expr string) (*CELEligibilityRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("goods_id", cel.IntType),
		cel.Variable("sku_id", cel.IntType),
		cel.Variable("stock", cel.IntType),
		cel.Variable("sale_start", cel.TimestampType),
		cel.Variable("sale_end", cel.TimestampType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile eligibility rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("eligibility rule %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for eligibility rule %q", expr)
	}
	return &CELEligibilityRule{expr: expr, program: prg}, nil
}

// Eligible 对单个商品求值。
func (r *CELEligibilityRule) Eligible(g domain.Good, now time.Time) (bool, error) {
	out, _, err := r.program.Eval(map[string]interface{}{
		"goods_id":   g.GoodsID,
		"sku_id":     g.SkuID,
		"stock":      g.Stock,
		"sale_start": g.SaleStart,
		"sale_end":   g.SaleEnd,
		"now":        now,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate eligibility rule for sku %d", g.SkuID)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Errorf("eligibility rule returned %T", out.Value())
	}
	return ok, nil
}

func (r *CELEligibilityRule) String() string {
	return r.expr
}
