/*
facts.go - Named fact resolvers with per-event memoization

PURPOSE:
  Rule conditions reference facts by name. A Facts registry maps each name
  to a resolver; binding the registry to one event yields a FactSet whose
  resolutions are lazy and memoized, so each resolver runs at most once per
  event no matter how many leaves reference it.

CATALOG:
  Direct fields    eventType, market, channel, productLine, timestamp,
                   consumerId
  Context          context, context.externalId, context.storeId,
                   context.campaignCode
  Attributes       attributes, attributes.amount, attributes.srpAmount,
                   attributes.skuList, attributes.recycledCount,
                   attributes.skinTestDate, attributes.comboTag,
                   attributes.adjustedPoints
  Temporal         eventDate, eventMonth
  Consumer         consumer, isVIP, birthMonth, isBirthMonth, tags
  History-derived  purchaseCount, daysSinceFirstPurchase, isFirstPurchase
  Convenience      storeType, redemptionPoints, transactionAmount

  Missing optional paths resolve to Null; unregistered names fail with
  UnknownFactError so the rule engine can skip the rule.

SEE ALSO:
  - value.go: The variant type resolvers return
  - store.go: The derived queries behind history facts
*/
package loyalty

import (
	"context"
	"strings"
	"time"
)

// FactResolver computes one named fact for the event bound to fs. Resolvers
// may resolve other facts through fs; memoization keeps the work linear.
type FactResolver func(ctx context.Context, fs *FactSet) (Value, error)

// Facts is the resolver registry. Registration happens at wiring time; the
// registry is read-only afterwards and shared across events.
type Facts struct {
	resolvers map[string]FactResolver
}

func NewFacts() *Facts {
	return &Facts{resolvers: make(map[string]FactResolver)}
}

// Register adds or replaces a resolver.
func (f *Facts) Register(name string, r FactResolver) {
	f.resolvers[name] = r
}

// Bind attaches the registry to one event. The returned FactSet memoizes
// per event and is not safe for concurrent use; each event evaluation owns
// its own FactSet.
func (f *Facts) Bind(ev *EventInput, store ConsumerStore) *FactSet {
	return &FactSet{
		facts: f,
		event: ev,
		store: store,
		memo:  make(map[string]factResult),
	}
}

type factResult struct {
	v   Value
	err error
}

// FactSet is a Facts registry bound to a single event evaluation.
type FactSet struct {
	facts *Facts
	event *EventInput
	store ConsumerStore
	memo  map[string]factResult

	profile       *Consumer
	profileLoaded bool
	profileErr    error
}

func (fs *FactSet) Event() *EventInput    { return fs.event }
func (fs *FactSet) Store() ConsumerStore  { return fs.store }

// Resolve returns the named fact, running its resolver on first use.
// Results, including failures, are memoized for the lifetime of the set.
func (fs *FactSet) Resolve(ctx context.Context, name string) (Value, error) {
	if r, ok := fs.memo[name]; ok {
		return r.v, r.err
	}

	resolver, ok := fs.facts.resolvers[name]
	if !ok {
		err := &UnknownFactError{Fact: name}
		fs.memo[name] = factResult{v: Null(), err: err}
		return Null(), err
	}

	v, err := resolver(ctx, fs)
	fs.memo[name] = factResult{v: v, err: err}
	return v, err
}

// consumer loads the profile once per event. A consumer the store has never
// seen yields (nil, nil): facts fall back to fresh-record defaults.
func (fs *FactSet) consumer(ctx context.Context) (*Consumer, error) {
	if fs.profileLoaded {
		return fs.profile, fs.profileErr
	}
	fs.profileLoaded = true

	c, err := fs.store.GetConsumer(ctx, fs.event.ConsumerID)
	if err != nil {
		if IsNotFound(err) {
			fs.profile = nil
			return nil, nil
		}
		fs.profileErr = err
		return nil, err
	}
	fs.profile = c
	return c, nil
}

// =============================================================================
// STANDARD CATALOG
// =============================================================================

// StandardFacts builds the full catalog listed in the file header. Callers
// may Register additional resolvers on the result.
func StandardFacts() *Facts {
	f := NewFacts()

	// Direct input fields.
	f.Register("eventType", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewString(string(fs.event.EventType)), nil
	})
	f.Register("market", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewString(string(fs.event.Market)), nil
	})
	f.Register("channel", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewString(fs.event.Channel), nil
	})
	f.Register("productLine", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewString(fs.event.ProductLine), nil
	})
	f.Register("timestamp", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewDate(fs.event.Timestamp), nil
	})
	f.Register("consumerId", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewString(string(fs.event.ConsumerID)), nil
	})

	// Context paths.
	f.Register("context", func(_ context.Context, fs *FactSet) (Value, error) {
		if len(fs.event.Context) == 0 {
			return Null(), nil
		}
		return FromAny(fs.event.Context), nil
	})
	for _, key := range []string{"externalId", "storeId", "campaignCode"} {
		key := key
		f.Register("context."+key, func(_ context.Context, fs *FactSet) (Value, error) {
			return mappingValue(fs.event.Context, key), nil
		})
	}

	// Attribute paths.
	f.Register("attributes", func(_ context.Context, fs *FactSet) (Value, error) {
		if len(fs.event.Attributes) == 0 {
			return Null(), nil
		}
		return FromAny(fs.event.Attributes), nil
	})
	for _, key := range []string{
		"amount", "srpAmount", "skuList", "recycledCount",
		"skinTestDate", "comboTag", "adjustedPoints",
	} {
		key := key
		f.Register("attributes."+key, func(_ context.Context, fs *FactSet) (Value, error) {
			return mappingValue(fs.event.Attributes, key), nil
		})
	}

	// Temporal derivations of the event timestamp.
	f.Register("eventDate", func(_ context.Context, fs *FactSet) (Value, error) {
		ts := fs.event.Timestamp
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
		return NewDate(day), nil
	})
	f.Register("eventMonth", func(_ context.Context, fs *FactSet) (Value, error) {
		return NewNumberFromInt(int64(fs.event.Timestamp.Month())), nil
	})

	// Consumer snapshot.
	f.Register("consumer", func(ctx context.Context, fs *FactSet) (Value, error) {
		c, err := fs.consumer(ctx)
		if err != nil {
			return Null(), err
		}
		if c == nil {
			return Null(), nil
		}
		m := map[string]Value{
			"consumerId": NewString(string(c.ID)),
			"market":     NewString(string(c.Market)),
			"isVIP":      NewBool(c.IsVIP),
			"tags":       FromAny(c.Tags),
		}
		if c.BirthDate != nil {
			m["birthDate"] = NewDate(*c.BirthDate)
		} else {
			m["birthDate"] = Null()
		}
		return NewMap(m), nil
	})
	f.Register("isVIP", func(ctx context.Context, fs *FactSet) (Value, error) {
		c, err := fs.consumer(ctx)
		if err != nil {
			return Null(), err
		}
		return NewBool(c != nil && c.IsVIP), nil
	})
	f.Register("birthMonth", func(ctx context.Context, fs *FactSet) (Value, error) {
		c, err := fs.consumer(ctx)
		if err != nil {
			return Null(), err
		}
		if month, ok := c.BirthMonth(); ok {
			return NewNumberFromInt(int64(month)), nil
		}
		return Null(), nil
	})
	f.Register("isBirthMonth", func(ctx context.Context, fs *FactSet) (Value, error) {
		bm, err := fs.Resolve(ctx, "birthMonth")
		if err != nil {
			return Null(), err
		}
		if bm.IsNull() {
			return NewBool(false), nil
		}
		em, err := fs.Resolve(ctx, "eventMonth")
		if err != nil {
			return Null(), err
		}
		return NewBool(bm.Equal(em)), nil
	})
	f.Register("tags", func(ctx context.Context, fs *FactSet) (Value, error) {
		c, err := fs.consumer(ctx)
		if err != nil {
			return Null(), err
		}
		if c == nil {
			return Null(), nil
		}
		return FromAny(c.Tags), nil
	})

	// History-derived facts. The current event is not yet persisted, so
	// these see prior events only.
	f.Register("purchaseCount", func(ctx context.Context, fs *FactSet) (Value, error) {
		n, err := fs.store.PurchaseCount(ctx, fs.event.ConsumerID)
		if err != nil {
			return Null(), err
		}
		return NewNumberFromInt(n), nil
	})
	f.Register("daysSinceFirstPurchase", func(ctx context.Context, fs *FactSet) (Value, error) {
		days, err := fs.store.DaysSinceFirstPurchase(ctx, fs.event.ConsumerID, fs.event.Timestamp)
		if err != nil {
			return Null(), err
		}
		return NewNumberFromInt(days), nil
	})
	f.Register("isFirstPurchase", func(ctx context.Context, fs *FactSet) (Value, error) {
		count, err := fs.Resolve(ctx, "purchaseCount")
		if err != nil {
			return Null(), err
		}
		n, _ := count.Number()
		return NewBool(n.IsZero()), nil
	})

	// Convenience facts.
	f.Register("storeType", func(_ context.Context, fs *FactSet) (Value, error) {
		storeID := mappingValue(fs.event.Context, "storeId")
		if s, ok := storeID.Text(); ok && strings.Contains(s, "VIP") {
			return NewString("VIP"), nil
		}
		return NewString("STANDARD"), nil
	})
	f.Register("redemptionPoints", func(_ context.Context, fs *FactSet) (Value, error) {
		return mappingValue(fs.event.Attributes, "redemptionPoints"), nil
	})
	f.Register("transactionAmount", func(_ context.Context, fs *FactSet) (Value, error) {
		if v := mappingValue(fs.event.Attributes, "amount"); !v.IsNull() {
			return v, nil
		}
		return mappingValue(fs.event.Attributes, "srpAmount"), nil
	})

	return f
}

// mappingValue looks up one key of an opaque event mapping, Null when the
// mapping or the key is absent.
func mappingValue(m map[string]any, key string) Value {
	if m == nil {
		return Null()
	}
	v, ok := m[key]
	if !ok {
		return Null()
	}
	return FromAny(v)
}
