package domain

import "strings"

// Plan описывает тариф сервера.
type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanStarter Plan = "STARTER"
	PlanPro     Plan = "PRO"
	// PlanInternal выдаётся вручную серверам команды, потолков не имеет.
	PlanInternal Plan = "INTERNAL"
)

// Unlimited обозначает отсутствие дневного потолка.
const Unlimited = -1

// PlanLimits описывает дневные потолки тарифа.
type PlanLimits struct {
	Plan              Plan
	Name              string
	Price             string
	MaxMessagesPerDay int
	SummariesPerDay   int
}

var planLimits = map[Plan]PlanLimits{
	PlanFree: {
		Plan:              PlanFree,
		Name:              "FREE",
		Price:             "$0",
		MaxMessagesPerDay: 1000,
		SummariesPerDay:   1,
	},
	PlanStarter: {
		Plan:              PlanStarter,
		Name:              "STARTER",
		Price:             "$12/mo",
		MaxMessagesPerDay: 5000,
		SummariesPerDay:   2,
	},
	PlanPro: {
		Plan:              PlanPro,
		Name:              "PRO",
		Price:             "$39/mo",
		MaxMessagesPerDay: 25000,
		SummariesPerDay:   4,
	},
	PlanInternal: {
		Plan:              PlanInternal,
		Name:              "INTERNAL",
		Price:             "$0",
		MaxMessagesPerDay: Unlimited,
		SummariesPerDay:   Unlimited,
	},
}

// LimitsForPlan возвращает потолки тарифа. Неизвестный тариф трактуется как FREE.
func LimitsForPlan(plan Plan) PlanLimits {
	if limits, ok := planLimits[Plan(strings.ToUpper(string(plan)))]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// Limits возвращает потолки тарифа сервера.
func (s Server) Limits() PlanLimits {
	return LimitsForPlan(s.Plan)
}

// ResourceClass — класс ресурса, ограничиваемый квотой.
type ResourceClass string

const (
	ResourceMessageWrite ResourceClass = "message_write"
	ResourceSummaryRun   ResourceClass = "summary_run"
)

// Ceiling возвращает дневной потолок класса ресурса.
func (l PlanLimits) Ceiling(class ResourceClass) int {
	switch class {
	case ResourceMessageWrite:
		return l.MaxMessagesPerDay
	case ResourceSummaryRun:
		return l.SummariesPerDay
	}
	return 0
}

// LimitCheck описывает результат проверки квоты.
type LimitCheck struct {
	Allowed bool
	Current int
	Limit   int
	Reason  string
}
