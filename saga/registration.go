package saga

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/meridian-commerce/orchestrator/errgroup"
	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
)

// welcomeNotificationType tags the welcome message for opt-in checks.
const welcomeNotificationType = "WELCOME"

// defaultPreferences seeds new accounts until the user changes them.
var defaultPreferences = modules.Preferences{
	"newsletter": "weekly",
	"currency":   "USD",
	"language":   "en",
}

// registrationExtras holds the outcomes of the two concurrent follow-up
// tasks. Written by the group goroutines, read after the join; the mutex
// covers the abandoned-at-timeout case where a straggler may still write.
type registrationExtras struct {
	mu           sync.Mutex
	preferences  modules.Preferences
	notification string
}

func (ex *registrationExtras) setPreferences(prefs modules.Preferences) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.preferences = prefs
}

func (ex *registrationExtras) setNotification(outcome string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.notification = outcome
}

func (ex *registrationExtras) snapshot() (modules.Preferences, string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.preferences, ex.notification
}

// CoordinateUserRegistration creates the user record synchronously, then runs
// preference initialization and the welcome notification concurrently.
// Either follow-up may fail without aborting the registration: failures are
// logged and a safe default substituted in the combined result.
func (co *Coordinator) CoordinateUserRegistration(ctx context.Context, newUser modules.NewUser) Result {
	if co == nil {
		return Fail("coordinator not available")
	}

	ctx, span := co.tracer.Start(ctx, "saga.user_registration")
	defer span.End()

	user, err := co.users.CreateUser(ctx, newUser)
	if err != nil {
		co.logger.Log(ctx, log.LevelError, "user creation failed", log.Err(err))

		return Fail("user creation failed")
	}

	span.SetAttributes(attribute.String("user.id", user.ID))

	extras := &registrationExtras{notification: "SKIPPED"}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLogger(co.logger)

	grp.Go(func() error {
		prefs, prefErr := co.catalog.InitializePreferences(grpCtx, user.ID, defaultPreferences)
		if prefErr != nil {
			co.logger.Log(grpCtx, log.LevelWarn, "preference initialization failed",
				log.String("user_id", user.ID), log.Err(prefErr))

			return nil
		}

		extras.setPreferences(prefs)

		return nil
	})

	grp.Go(func() error {
		optedIn, optErr := co.users.HasOptedIn(grpCtx, user.ID, welcomeNotificationType)
		if optErr != nil {
			co.logger.Log(grpCtx, log.LevelWarn, "welcome opt-in check failed",
				log.String("user_id", user.ID), log.Err(optErr))

			return nil
		}

		if !optedIn {
			return nil
		}

		notification := modules.Notification{
			Recipient: user.ID,
			Type:      welcomeNotificationType,
			Subject:   "Welcome!",
			Body:      fmt.Sprintf("Welcome aboard, %s.", user.Name),
		}

		if sendErr := co.notifications.Send(grpCtx, notification); sendErr != nil {
			co.logger.Log(grpCtx, log.LevelWarn, "welcome notification failed",
				log.String("user_id", user.ID), log.Err(sendErr))

			extras.setNotification("FAILED")

			return nil
		}

		extras.setNotification("SENT")

		return nil
	})

	joinCtx, cancel := context.WithTimeout(ctx, co.joinTimeout)
	defer cancel()

	if waitErr := grp.WaitContext(joinCtx); waitErr != nil {
		co.logger.Log(ctx, log.LevelWarn, "registration follow-up tasks abandoned",
			log.String("user_id", user.ID), log.Err(waitErr))
	}

	prefs, notification := extras.snapshot()
	if prefs == nil {
		prefs = modules.Preferences{}
	}

	co.publish(ctx, events.EventUserRegistered, map[string]any{"userId": user.ID})

	return Ok("user registered", map[string]any{
		"user":         user,
		"preferences":  prefs,
		"notification": notification,
	})
}
