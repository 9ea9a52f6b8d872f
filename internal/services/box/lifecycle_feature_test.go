package box

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
)

type lifecycleContext struct {
	t       *testing.T
	f       *fixture
	boxes   map[string]int64
	shops   map[string]int64
	release *Release
	err     error
}

func (c *lifecycleContext) reset() {
	c.f = newFixture(c.t)
	c.boxes = map[string]int64{}
	c.shops = map[string]int64{}
	c.release = nil
	c.err = nil
}

func (c *lifecycleContext) aFreeBoxRentingFor(numero, rent string) error {
	b, err := c.f.boxes.Create(context.Background(), BoxInput{
		Numero:  numero,
		Surface: decimal.NewFromInt(20),
		Rent:    decimal.RequireFromString(rent),
	})
	if err != nil {
		return err
	}
	c.boxes[numero] = b.ID
	return nil
}

func (c *lifecycleContext) aShop(name string) error {
	shop := &models.Shop{OwnerID: 1, Name: name, Active: true}
	if err := c.f.db.Create(shop).Error; err != nil {
		return err
	}
	c.shops[name] = shop.ID
	return nil
}

func (c *lifecycleContext) boxIsAssignedTo(numero, shop string) error {
	_, c.err = c.f.boxes.Assign(context.Background(), c.boxes[numero], c.shops[shop], nil)
	return nil
}

func (c *lifecycleContext) daysPass(days int) error {
	c.f.clock.Advance(time.Duration(days) * 24 * time.Hour)
	return nil
}

func (c *lifecycleContext) boxIsReleased(numero string) error {
	c.release, c.err = c.f.boxes.Release(context.Background(), c.boxes[numero], nil)
	return nil
}

func (c *lifecycleContext) boxIsTransferredTo(numero, shop string) error {
	_, c.err = c.f.boxes.Transfer(context.Background(), c.boxes[numero], c.shops[shop], nil)
	return nil
}

func (c *lifecycleContext) boxIsDeleted(numero string) error {
	c.err = c.f.boxes.Delete(context.Background(), c.boxes[numero])
	return nil
}

func (c *lifecycleContext) theReleaseLastedDays(days int) error {
	if c.err != nil {
		return fmt.Errorf("release failed: %v", c.err)
	}
	if c.release.Days != days {
		return fmt.Errorf("expected %d days, got %d", days, c.release.Days)
	}
	return nil
}

func (c *lifecycleContext) boxHasHistoryRows(numero string, closed, open int) error {
	if c.err != nil {
		return fmt.Errorf("last operation failed: %v", c.err)
	}
	var rows []models.BoxHistory
	if err := c.f.db.Where("box_id = ?", c.boxes[numero]).Find(&rows).Error; err != nil {
		return err
	}
	var gotClosed, gotOpen int
	for _, h := range rows {
		if h.EndedAt == nil {
			gotOpen++
		} else {
			gotClosed++
		}
	}
	if gotClosed != closed || gotOpen != open {
		return fmt.Errorf("expected %d closed and %d open rows, got %d and %d", closed, open, gotClosed, gotOpen)
	}
	return nil
}

func (c *lifecycleContext) boxFreeFlag(numero string, want bool) error {
	var b models.Box
	if err := c.f.db.First(&b, c.boxes[numero]).Error; err != nil {
		return err
	}
	if b.Free != want {
		return fmt.Errorf("expected box %s free=%t", numero, want)
	}
	return nil
}

func (c *lifecycleContext) boxIsHeldBy(numero, shop string) error {
	var s models.Shop
	if err := c.f.db.First(&s, c.shops[shop]).Error; err != nil {
		return err
	}
	if s.BoxID == nil || *s.BoxID != c.boxes[numero] {
		return fmt.Errorf("shop %q does not hold box %s", shop, numero)
	}
	return nil
}

func (c *lifecycleContext) shopHoldsNoBox(shop string) error {
	var s models.Shop
	if err := c.f.db.First(&s, c.shops[shop]).Error; err != nil {
		return err
	}
	if s.BoxID != nil {
		return fmt.Errorf("shop %q still holds box %d", shop, *s.BoxID)
	}
	return nil
}

func (c *lifecycleContext) theOperationFailsWith(code string) error {
	if c.err == nil {
		return errors.New("expected the operation to fail but it succeeded")
	}
	if !apperr.Is(c.err, code) {
		return fmt.Errorf("expected %s, got %v", code, c.err)
	}
	c.err = nil
	return nil
}

func initializeLifecycleScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		lc := &lifecycleContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			lc.reset()
			return ctx, nil
		})

		ctx.Step(`^a free box "([^"]*)" renting for ([\d.]+)$`, lc.aFreeBoxRentingFor)
		ctx.Step(`^a shop "([^"]*)"$`, lc.aShop)

		ctx.Step(`^box "([^"]*)" is assigned to "([^"]*)"$`, lc.boxIsAssignedTo)
		ctx.Step(`^(\d+) days pass$`, lc.daysPass)
		ctx.Step(`^box "([^"]*)" is released$`, lc.boxIsReleased)
		ctx.Step(`^box "([^"]*)" is transferred to "([^"]*)"$`, lc.boxIsTransferredTo)
		ctx.Step(`^box "([^"]*)" is deleted$`, lc.boxIsDeleted)

		ctx.Step(`^the release lasted (\d+) days$`, lc.theReleaseLastedDays)
		ctx.Step(`^box "([^"]*)" has (\d+) closed history rows and (\d+) open$`, lc.boxHasHistoryRows)
		ctx.Step(`^box "([^"]*)" is free$`, func(numero string) error { return lc.boxFreeFlag(numero, true) })
		ctx.Step(`^box "([^"]*)" is occupied$`, func(numero string) error { return lc.boxFreeFlag(numero, false) })
		ctx.Step(`^box "([^"]*)" is held by "([^"]*)"$`, lc.boxIsHeldBy)
		ctx.Step(`^shop "([^"]*)" holds no box$`, lc.shopHoldsNoBox)
		ctx.Step(`^the operation fails with "([^"]*)"$`, lc.theOperationFailsWith)
	}
}

func TestBoxLifecycleFeature(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLifecycleScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../../features/box_lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
