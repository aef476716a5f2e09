package pyramid

// Completion reports the outcome of one load. It is bound to the tile object
// the load was issued for, so a result arriving after that tile was aborted
// or evicted (and its id possibly reassigned to a new tile) is discarded
// instead of being applied to the new occupant.
type Completion struct {
	p    *Pyramid
	tile *Tile
}

// Tile returns the tile the load was issued for.
func (c Completion) Tile() *Tile { return c.tile }

// Done applies the load result: the tile becomes Loaded with payload, or
// Errored with err. It must run on the pyramid's goroutine. Done reports
// whether the result was applied; it returns false for stale or repeated
// completions.
func (c Completion) Done(payload any, err error) bool {
	p, t := c.p, c.tile
	if p == nil || t == nil || p.tiles[t.ID] != t || t.State != StateLoading {
		if p != nil {
			p.opt.Metrics.StaleCompletion()
			if t != nil {
				p.log.Debug("pyramid: discarding stale completion", "coord", t.Coord.String(), "uid", t.UID)
			}
		}
		return false
	}

	if err != nil {
		// Errored tiles stay cached so a failing coordinate is not refetched
		// on every retain.
		t.State = StateErrored
		t.Err = err
		p.log.Warn("pyramid: tile load failed", "coord", t.Coord.String(), "uid", t.UID, "error", err)
	} else {
		t.State = StateLoaded
		t.Payload = payload
		p.log.Debug("pyramid: tile loaded", "coord", t.Coord.String(), "uid", t.UID)
	}
	p.opt.Metrics.LoadFinished(err)
	return true
}
