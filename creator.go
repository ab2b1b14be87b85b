package lanebus

// Listen builds a subscriber with zero-value state, binds the callback and
// subscribes it to key on the given lane with set id 0. The caller owns the
// returned subscriber and must Close it when done.
//
// The callback is wrapped with a key check: a delivery carrying any other
// key is discarded and logged, since the subscription was made for exactly
// this key.
func Listen[K comparable, S, P any](m *Manager, key K, lane Lane, cb Callback[K, S, P]) (*Subscriber[K, S, P], error) {
	if cb == nil {
		return nil, ErrCallbackNil
	}

	engine := EngineOf[K, P](m)
	var state S
	sub := NewSubscriber(engine, state)

	wrapped := func(set SetID, st *S, k K, payload P) {
		if k != key {
			engine.set.log.Error().
				Interface("want", key).
				Interface("got", k).
				Str("receiver", sub.ID()).
				Msg("delivery key does not match subscription key")
			return
		}
		cb(set, st, k, payload)
	}
	if err := sub.SetCallback(wrapped); err != nil {
		return nil, err
	}
	if err := sub.Subscribe(lane, 0, key); err != nil {
		return nil, err
	}
	return sub, nil
}
