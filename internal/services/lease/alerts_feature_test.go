package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"mall-system/internal/database/models"
)

type alertsContext struct {
	t         *testing.T
	f         *fixture
	periodEnd time.Time
	alert     Alert
	situation *Situation
	shops     map[string]int64
}

func (c *alertsContext) reset() {
	c.f = newFixture(c.t)
	c.periodEnd = time.Time{}
	c.alert = Alert{}
	c.situation = nil
	c.shops = map[string]int64{}
}

func (c *alertsContext) aLeasePeriodEndingInDays(days int) error {
	c.periodEnd = c.f.clock.Now.Add(time.Duration(days) * 24 * time.Hour)
	return nil
}

func (c *alertsContext) theAlertIsEvaluated() error {
	now := c.f.clock.Now
	c.alert = Classify(now.AddDate(0, -1, 0), c.periodEnd, now)
	return nil
}

func (c *alertsContext) aShopWithABoxRentingFor(name, rent string) error {
	b := &models.Box{
		Numero:  "F-" + name,
		Surface: decimal.NewFromInt(15),
		Rent:    decimal.RequireFromString(rent),
	}
	if err := c.f.db.Create(b).Error; err != nil {
		return err
	}
	shop := &models.Shop{OwnerID: 1, Name: name, Active: true, BoxID: &b.ID}
	if err := c.f.db.Create(shop).Error; err != nil {
		return err
	}
	c.shops[name] = shop.ID
	return nil
}

func (c *alertsContext) paysAMonthlyLease(name string) error {
	_, err := c.f.leases.RecordPayment(context.Background(), PaymentInput{ShopID: c.shops[name], Period: string(Monthly)})
	return err
}

func (c *alertsContext) daysPass(days int) error {
	c.f.clock.Advance(time.Duration(days) * 24 * time.Hour)
	return nil
}

func (c *alertsContext) theSituationIsChecked(name string) error {
	sit, err := c.f.leases.SituationFor(context.Background(), c.shops[name])
	if err != nil {
		return err
	}
	c.situation = sit
	c.alert = sit.Alert
	return nil
}

func (c *alertsContext) theAlertStatusIs(status string) error {
	if string(c.alert.Status) != status {
		return fmt.Errorf("expected status %s, got %s (%s)", status, c.alert.Status, c.alert.Message)
	}
	return nil
}

func (c *alertsContext) theAlertReportsOverdueDays(days int) error {
	if c.alert.OverdueDays != days {
		return fmt.Errorf("expected %d overdue days, got %d", days, c.alert.OverdueDays)
	}
	return nil
}

func (c *alertsContext) theLastPaymentAmountIs(amount string) error {
	if c.situation == nil || c.situation.Amount == nil {
		return fmt.Errorf("no payment in situation")
	}
	want := decimal.RequireFromString(amount)
	if !c.situation.Amount.Equal(want) {
		return fmt.Errorf("expected amount %s, got %s", want, c.situation.Amount)
	}
	return nil
}

func initializeAlertsScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		ac := &alertsContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			ac.reset()
			return ctx, nil
		})

		ctx.Step(`^a lease period ending in (-?\d+) days$`, ac.aLeasePeriodEndingInDays)
		ctx.Step(`^a shop "([^"]*)" with a box renting for ([\d.]+)$`, ac.aShopWithABoxRentingFor)

		ctx.Step(`^the alert is evaluated$`, ac.theAlertIsEvaluated)
		ctx.Step(`^"([^"]*)" pays a monthly lease$`, ac.paysAMonthlyLease)
		ctx.Step(`^(\d+) days pass$`, ac.daysPass)
		ctx.Step(`^the situation of "([^"]*)" is checked$`, ac.theSituationIsChecked)

		ctx.Step(`^the alert status is "([^"]*)"$`, ac.theAlertStatusIs)
		ctx.Step(`^the alert reports (\d+) overdue days$`, ac.theAlertReportsOverdueDays)
		ctx.Step(`^the last payment amount is ([\d.]+)$`, ac.theLastPaymentAmountIs)
	}
}

func TestLeaseAlertsFeature(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeAlertsScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../../features/lease_alerts.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
