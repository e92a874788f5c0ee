package fabric

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/fedsim/federate"
	"github.com/sarchlab/fedsim/vtime"
)

// ErrInvalidStep is returned when an observer is given a step that does not
// advance time.
var ErrInvalidStep = errors.New("fabric: observer step must be positive")

// RunObserver drives a federate that only follows the values published by
// its peers. It requests time in steps of step and hands every delivered
// update to onUpdate. It finishes the federate once until is reached, or,
// when until is zero, once every peer has finished.
func RunObserver(
	ctx context.Context,
	c *Client,
	step, until vtime.Time,
	onUpdate func(federate.Update),
) error {
	if !step.IsStrictlyPositive() {
		return ErrInvalidStep
	}

	log := logrus.WithField("federate", c.Name())

	for {
		now := c.Now()

		if until.IsStrictlyPositive() && now >= until {
			break
		}

		if !until.IsStrictlyPositive() && c.Alone() && now > 0 {
			break
		}

		next := now.Add(step)
		if until.IsStrictlyPositive() {
			next = vtime.Min(next, until)
		}

		granted, err := c.TimeRequest(ctx, next)
		if err != nil {
			return err
		}

		for _, u := range c.Events() {
			if onUpdate != nil {
				onUpdate(u)
			}
		}

		log.WithField("now", granted).Trace("observer advanced")
	}

	log.WithField("now", c.Now()).Debug("observer done")

	return c.Finish()
}
