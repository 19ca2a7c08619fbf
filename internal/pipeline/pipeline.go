// Package pipeline wires every component into the per-frame supervisor
// loop (§4.12, §5): one Pipeline drives one video stream, running
// single-threaded and cooperative, suspending only at frame boundaries
// and sink publication.
//
// Grounded on the teacher's worker-loop shape (cmd/server's sequential
// service wiring) generalized from a one-shot HTTP handler chain into a
// long-running per-frame state machine; the MPSC control channel follows
// the same drain-at-boundary idiom the teacher's escrow package uses for
// its tick sweep.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/gatesupervisor/internal/clock"
	"github.com/ocx/gatesupervisor/internal/config"
	"github.com/ocx/gatesupervisor/internal/eventlog"
	"github.com/ocx/gatesupervisor/internal/framesource"
	"github.com/ocx/gatesupervisor/internal/fsm"
	"github.com/ocx/gatesupervisor/internal/geometry"
	"github.com/ocx/gatesupervisor/internal/group"
	"github.com/ocx/gatesupervisor/internal/guard"
	"github.com/ocx/gatesupervisor/internal/metrics"
	"github.com/ocx/gatesupervisor/internal/pose"
	"github.com/ocx/gatesupervisor/internal/sink"
	"github.com/ocx/gatesupervisor/internal/ticket"
	"github.com/ocx/gatesupervisor/internal/tracker"
	"github.com/ocx/gatesupervisor/internal/zone"
)

// CommandType selects which §6.1 control command a Command carries.
type CommandType int

const (
	CmdUpdateZones CommandType = iota
	CmdSetExaminationMode
	CmdSetAnchorLogic
	CmdCancelTicket
	CmdResetCounts
	CmdStop
)

// Command is one control-plane message, delivered over the pipeline's
// MPSC channel and applied once at the next frame boundary (§6.1, §5).
type Command struct {
	Type CommandType

	GateAreaPolygon    []config.Point
	GuardAnchorPolygon []config.Point

	ExaminationMode config.ExaminationMode
	AnchorLogic     config.GuardAnchorLogic

	TicketID uint64
	Reason   string
}

type guardEdgeState struct {
	wasGuard     bool
	wasQualified bool
}

// trackCtx is the per-track, per-frame scratch state computed once and
// reused across the group/person/ticket/snapshot stages below.
type trackCtx struct {
	track     *tracker.Track
	class     zone.Classification
	isGuard   bool
	qualified bool
	keypoints pose.Keypoints
	haveKP    bool
}

// Pipeline owns every component for one video stream and advances them
// together, one frame at a time.
type Pipeline struct {
	streamID string
	cfg      *config.Config
	clk      clock.Clock

	source framesource.Source
	sink   sink.Sink
	mx     *metrics.Metrics

	tracker  *tracker.Tracker
	zones    *zone.Model
	groups   *group.Detector
	guards   *guard.Classifier
	poses    *pose.Adapter
	fsmEng   *fsm.Engine
	tickets  *ticket.Manager
	eventLog *eventlog.Log

	commands chan Command
	stop     chan struct{}

	seenTrackIDs    map[uint64]bool
	prevInGateArea  map[uint64]bool
	prevInAnchor    map[uint64]bool
	prevPoseReach   map[uint64]bool
	guardEdges      map[uint64]guardEdgeState
	prevGroupIDs    map[uint64]bool

	counts sink.Counts
	stats  sink.Stats

	totalWaitTime time.Duration
	checkedCount  int64

	frameID uint64
}

// Option configures optional Pipeline dependencies at construction.
type Option func(*Pipeline)

// WithPoseSource attaches an optional pose keypoint source (§4.5); if
// never set, every pose predicate degrades to false.
func WithPoseSource(src pose.Source) Option {
	return func(p *Pipeline) {
		p.poses = pose.NewAdapter(p.cfg.Pose, src)
	}
}

// New builds a Pipeline for one stream. clk is the injected monotonic
// time source (§5) — production callers pass clock.RealClock{}, tests
// pass a *clock.Virtual.
func New(streamID string, cfg *config.Config, clk clock.Clock, source framesource.Source, sk sink.Sink, mx *metrics.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		streamID: streamID,
		cfg:      cfg,
		clk:      clk,
		source:   source,
		sink:     sk,
		mx:       mx,

		tracker:  tracker.New(cfg.Tracking, cfg.Filter.JitterWindow),
		zones:    zone.NewModel(cfg.Zones.GateAreaPolygon, cfg.Zones.GuardAnchorPolygon),
		groups:   group.New(cfg.Group),
		guards:   guard.New(cfg.Guard),
		fsmEng:   fsm.New(cfg),
		tickets:  ticket.New(cfg.Queue, cfg.Group, cfg.Presence, cfg.Zones.ExaminationMode),
		eventLog: eventlog.New(2000),

		commands: make(chan Command, 64),
		stop:     make(chan struct{}),

		seenTrackIDs:   make(map[uint64]bool),
		prevInGateArea: make(map[uint64]bool),
		prevInAnchor:   make(map[uint64]bool),
		prevPoseReach:  make(map[uint64]bool),
		guardEdges:     make(map[uint64]guardEdgeState),
		prevGroupIDs:   make(map[uint64]bool),
	}
	p.poses = pose.NewAdapter(cfg.Pose, nil)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Commands returns the send side of the MPSC control channel (§6.1):
// many external callers may enqueue commands concurrently, the pipeline
// drains them serially at the next frame boundary.
func (p *Pipeline) Commands() chan<- Command { return p.commands }

// EventLog exposes the stream's event history for observer APIs.
func (p *Pipeline) EventLog() *eventlog.Log { return p.eventLog }

// Stop signals the run loop to exit after the current frame (§5:
// cancellation is cooperative, checked between frames; no pending work
// is flushed).
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// Run drives the pipeline until the source is exhausted, ctx is
// cancelled, or Stop is called (directly or via a Stop command).
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.sink.Close()
	defer p.source.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		default:
		}

		frame, err := p.source.NextFrame()
		if err != nil {
			if err == framesource.ErrEndOfStream {
				return nil
			}
			return err
		}

		if err := p.ProcessFrame(frame); err != nil {
			slog.Error("pipeline: frame processing failed", "stream_id", p.streamID, "frame_id", frame.FrameID, "error", err)
		}
	}
}

// ProcessFrame runs the per-frame sequence for one frame. Detections are
// handed to the tracker as they come; they are not filtered by class or
// by box height first.
func (p *Pipeline) ProcessFrame(frame framesource.Frame) error {
	wallStart := time.Now()
	now := p.clk.Now()
	p.frameID = frame.FrameID

	if p.drainCommands(now) {
		return nil
	}

	tracks := p.tracker.Update(frame.Detections, float64(frame.Width), float64(frame.Height), now)

	ctxByID := make(map[uint64]*trackCtx, len(tracks))
	currentIDs := make(map[uint64]bool, len(tracks))

	var guardCandidates []guard.Candidate

	for _, t := range tracks {
		currentIDs[t.ID] = true
		if !p.seenTrackIDs[t.ID] {
			p.seenTrackIDs[t.ID] = true
			p.counts.TotalDetected++
			p.mx.RecordTrackSpawned(p.streamID)
		}

		cls := p.zones.Classify(t.Center)
		p.trackZoneEdges(t.ID, cls, now)

		guardResult := p.guards.Update(t.ID, cls.InGuardAnchor, cls.InGateArea, now)
		p.trackGuardEdges(t.ID, guardResult, now)

		kp, haveKP := p.poses.Update(t.ID, now)

		tc := &trackCtx{track: t, class: cls, isGuard: guardResult.IsGuard, qualified: guardResult.Qualified, keypoints: kp, haveKP: haveKP}
		ctxByID[t.ID] = tc

		if guardResult.IsGuard && guardResult.Qualified {
			guardCandidates = append(guardCandidates, guard.Candidate{GuardID: t.ID, Center: t.Center})
		}
	}

	var members []group.Member
	for _, t := range tracks {
		tc := ctxByID[t.ID]
		if tc.isGuard {
			continue
		}
		members = append(members, group.Member{TrackID: t.ID, Center: t.Center, BBoxNorm: t.BBoxNorm, FirstSeen: t.FirstSeenTS})
	}

	beforeGroups := make(map[uint64]bool, len(p.prevGroupIDs))
	for id := range p.prevGroupIDs {
		beforeGroups[id] = true
	}

	splits := p.groups.Update(members, now)

	currentGroups := p.groups.Groups()
	currentGroupIDs := make(map[uint64]bool, len(currentGroups))
	for _, g := range currentGroups {
		currentGroupIDs[g.ID] = true
		if !beforeGroups[g.ID] {
			p.eventLog.Emit("group_formed", g.Members[0], now, map[string]interface{}{"group_id": g.ID, "members": g.Members})
		}
	}
	p.prevGroupIDs = currentGroupIDs

	for _, sp := range splits {
		p.eventLog.Emit("group_split", sp.FormerMembers[0], now, map[string]interface{}{"group_id": sp.GroupID, "former_members": sp.FormerMembers})
		p.translateTicketEvents(p.tickets.HandleGroupSplit(sp.GroupID, sp.FormerMembers, now))
	}

	var persons []ticket.PersonMember
	var personViews []sink.PersonView
	for _, t := range tracks {
		tc := ctxByID[t.ID]
		if tc.isGuard {
			continue
		}

		occludedGrace := t.TimeSinceUpdate > 0 && now.Sub(t.LastSeenTS) <= p.cfg.Presence.OcclusionGrace

		var guardID uint64
		hasGuard := false
		var centerDist, iou float64
		inContact := false
		poseDetected := false

		if len(guardCandidates) > 0 {
			if gid, ok := guard.SelectGuard(guardCandidates, t.Center); ok {
				guardID = gid
				hasGuard = true
				if gc, ok := ctxByID[gid]; ok {
					inContact, centerDist, iou = fsm.Contact(t.BBoxNorm, gc.track.BBoxNorm, p.cfg.Score.CenterDistScale, p.cfg.Group.IoUMin)
					p.eventLog.UpdateContact(t.ID, gid, inContact, centerDist, iou, now)

					if p.poses.Available() {
						if p.poses.HandToTorso(tc.keypoints, tc.haveKP, gc.keypoints, gc.haveKP, gc.track.BBoxNorm) ||
							p.poses.ReachGesture(t.ID, gc.track.Center) {
							poseDetected = true
						}
					}
				}
			}
		}

		if poseDetected && !p.prevPoseReach[t.ID] {
			p.eventLog.Emit("pose_reach", t.ID, now, nil)
		}
		p.prevPoseReach[t.ID] = poseDetected

		prevState, hadState := p.fsmEng.Get(t.ID)
		var dt time.Duration
		if hadState {
			dt = now.Sub(prevState.LastUpdate)
		}

		trans := p.fsmEng.Update(t.ID, fsm.Input{
			InGateArea:    tc.class.InGateArea,
			OccludedGrace: occludedGrace,
			GuardID:       guardID,
			HasGuard:      hasGuard,
			IsInContact:   inContact,
			CenterDist:    centerDist,
			IoU:           iou,
			PoseDetected:  poseDetected,
			Now:           now,
			Dt:            dt,
		})

		if trans.From != trans.To {
			p.eventLog.Emit("state_changed", t.ID, now, map[string]interface{}{"from": trans.From.String(), "to": trans.To.String()})
		}
		if trans.Completed {
			p.eventLog.Emit("check_completed", t.ID, now, nil)
			p.mx.RecordCheckCompleted(p.streamID)
			p.counts.TotalPassedThrough++
		}

		state, _ := p.fsmEng.Get(t.ID)
		inStableGroup := false
		if grp, ok := p.groups.Get(t.ID); ok {
			inStableGroup = grp.Stable(now, p.cfg.Group.TLock)
		}

		persons = append(persons, ticket.PersonMember{
			TrackID:       t.ID,
			InGateArea:    tc.class.InGateArea,
			DwellInGA:     state.DwellInGA,
			Center:        t.Center,
			InStableGroup: inStableGroup,
		})

		pv := sink.PersonView{
			TrackID:          t.ID,
			State:            state.State.String(),
			DwellInGA:        state.DwellInGA,
			GuardOverlapTime: state.GuardOverlapTime,
			InteractionTime:  state.InteractionTime,
			Score:            state.Score,
		}
		if !state.CooldownUntil.IsZero() {
			pv.CooldownUntil = state.CooldownUntil
		}
		personViews = append(personViews, pv)
	}

	var groupMembers []ticket.GroupMember
	for _, g := range currentGroups {
		groupMembers = append(groupMembers, ticket.GroupMember{
			GroupID:  g.ID,
			Members:  g.Members,
			Centroid: g.Centroid,
			Stable:   g.Stable(now, p.cfg.Group.TLock),
		})
	}

	guardsWithTicket := make(map[uint64]bool)
	for _, t := range p.tickets.All() {
		if t.HasAssignedGuard && !t.Status.Terminal() {
			guardsWithTicket[t.AssignedGuardID] = true
		}
	}

	var guardMembers []ticket.GuardMember
	for _, t := range tracks {
		tc := ctxByID[t.ID]
		if !tc.isGuard {
			continue
		}
		guardMembers = append(guardMembers, ticket.GuardMember{
			GuardID:   t.ID,
			Qualified: tc.qualified,
			Center:    t.Center,
			HasTicket: guardsWithTicket[t.ID],
		})
	}

	ticketEvents := p.tickets.Update(persons, groupMembers, guardMembers, now)
	p.translateTicketEvents(ticketEvents)

	p.cleanup(currentIDs)

	p.counts.CurrentInGate = 0
	p.counts.CurrentInAnchor = 0
	for _, t := range tracks {
		tc := ctxByID[t.ID]
		if tc.class.InGateArea {
			p.counts.CurrentInGate++
		}
		if tc.class.InGuardAnchor {
			p.counts.CurrentInAnchor++
		}
	}

	p.stats.QueueLength = len(p.tickets.Queue())
	p.stats.ActiveGuards = len(guardCandidates)
	p.mx.SetQueueLength(p.streamID, p.stats.QueueLength)
	p.mx.SetTrackGauges(p.streamID, len(tracks), len(guardCandidates), len(currentGroups))

	snap := p.buildSnapshot(frame, tracks, ctxByID, currentGroups, guardMembers, personViews, now)
	if err := p.sink.Publish(context.Background(), snap); err != nil {
		p.mx.RecordSnapshotDrop(p.streamID, "sink")
	}

	p.mx.ObserveFrame(p.streamID, time.Since(wallStart).Seconds())
	return nil
}

func (p *Pipeline) trackZoneEdges(trackID uint64, cls zone.Classification, now time.Time) {
	if cls.InGateArea && !p.prevInGateArea[trackID] {
		p.eventLog.Emit("person_entered_ga", trackID, now, nil)
		p.counts.GateEntries++
	} else if !cls.InGateArea && p.prevInGateArea[trackID] {
		p.eventLog.Emit("person_exited_ga", trackID, now, nil)
		p.counts.GateExits++
	}
	p.prevInGateArea[trackID] = cls.InGateArea

	if cls.InGuardAnchor && !p.prevInAnchor[trackID] {
		p.counts.AnchorEntries++
	} else if !cls.InGuardAnchor && p.prevInAnchor[trackID] {
		p.counts.AnchorExits++
	}
	p.prevInAnchor[trackID] = cls.InGuardAnchor
}

func (p *Pipeline) trackGuardEdges(trackID uint64, result guard.Result, now time.Time) {
	prev := p.guardEdges[trackID]

	if result.IsGuard && !prev.wasGuard {
		p.eventLog.Emit("guard_anchored", trackID, now, nil)
	}
	if prev.wasGuard && (!result.IsGuard || (prev.wasQualified && !result.Qualified)) {
		p.eventLog.Emit("guard_left_anchor", trackID, now, nil)
	}

	p.guardEdges[trackID] = guardEdgeState{wasGuard: result.IsGuard, wasQualified: result.Qualified}
}

func (p *Pipeline) translateTicketEvents(events []ticket.Event) {
	now := p.clk.Now()
	for _, e := range events {
		meta := map[string]interface{}{"ticket_id": e.TicketID}
		if e.GuardID != 0 {
			meta["guard_id"] = e.GuardID
		}
		if e.Reason != "" {
			meta["reason"] = e.Reason
		}
		p.eventLog.Emit(e.Type, e.TicketID, now, meta)

		switch e.Type {
		case "ticket_created":
			t, _ := p.tickets.Get(e.TicketID)
			kind := "individual"
			if t != nil && t.Kind == ticket.Group {
				kind = "group"
			}
			p.mx.RecordTicketCreated(p.streamID, kind)
		case "ticket_escalated":
			p.mx.RecordTicketEscalated(p.streamID, e.Reason)
			p.stats.TotalEscalated++
		case "ticket_checked":
			t, _ := p.tickets.Get(e.TicketID)
			kind := "individual"
			if t != nil {
				if t.Kind == ticket.Group {
					kind = "group"
				}
				p.recordTicketWait(t.ReadyAt, t.CompletedAt)
			}
			p.mx.RecordTicketChecked(p.streamID, kind)
			p.stats.TotalProcessed++
		}
	}
}

func (p *Pipeline) recordTicketWait(readyAt, completedAt time.Time) {
	if completedAt.Before(readyAt) {
		return
	}
	p.totalWaitTime += completedAt.Sub(readyAt)
	p.checkedCount++
	p.stats.AverageWaitTime = p.totalWaitTime / time.Duration(p.checkedCount)
}

// cleanup drops per-component state for tracks no longer returned by the
// tracker (pipeline step 10, §4.12).
func (p *Pipeline) cleanup(currentIDs map[uint64]bool) {
	for id := range p.seenTrackIDs {
		if currentIDs[id] {
			continue
		}
		if _, stillTracked := p.prevInGateArea[id]; !stillTracked {
			continue
		}
		p.guards.Forget(id)
		p.poses.Forget(id)
		p.fsmEng.Forget(id)
		p.eventLog.ForgetTrack(id)
		delete(p.prevInGateArea, id)
		delete(p.prevInAnchor, id)
		delete(p.prevPoseReach, id)
		delete(p.guardEdges, id)
		p.mx.RecordTrackDropped(p.streamID)
	}
}

// drainCommands applies every buffered control command, returning true
// if a Stop command was processed (the caller should end the run loop).
func (p *Pipeline) drainCommands(now time.Time) (stopped bool) {
	for {
		select {
		case cmd := <-p.commands:
			switch cmd.Type {
			case CmdUpdateZones:
				if ok, reason := p.zones.TryUpdate(cmd.GateAreaPolygon, cmd.GuardAnchorPolygon); !ok {
					slog.Warn("pipeline: rejected zone update", "stream_id", p.streamID, "reason", reason)
					p.eventLog.Emit("zone_update_rejected", 0, now, map[string]interface{}{"reason": reason})
				}
			case CmdSetExaminationMode:
				p.tickets.SetExaminationMode(cmd.ExaminationMode)
			case CmdSetAnchorLogic:
				p.guards.SetAnchorLogic(cmd.AnchorLogic)
			case CmdCancelTicket:
				p.tickets.CancelTicket(cmd.TicketID, cmd.Reason, now)
			case CmdResetCounts:
				p.counts = sink.Counts{}
			case CmdStop:
				p.Stop()
				stopped = true
			}
		default:
			return stopped
		}
	}
}

func (p *Pipeline) buildSnapshot(
	frame framesource.Frame,
	tracks []*tracker.Track,
	ctxByID map[uint64]*trackCtx,
	groups []*group.Group,
	guardMembers []ticket.GuardMember,
	personViews []sink.PersonView,
	now time.Time,
) sink.Snapshot {
	qualifiedByID := make(map[uint64]bool, len(guardMembers))
	for _, g := range guardMembers {
		qualifiedByID[g.GuardID] = g.Qualified
	}

	guardTicketID := make(map[uint64]uint64)
	for _, t := range p.tickets.All() {
		if t.HasAssignedGuard && !t.Status.Terminal() {
			guardTicketID[t.AssignedGuardID] = t.ID
		}
	}

	trackViews := make([]sink.TrackView, 0, len(tracks))
	var guardViews []sink.GuardView
	for _, t := range tracks {
		tc := ctxByID[t.ID]
		role := "person"
		if tc.isGuard {
			role = "guard"
		}
		v := t.Velocity()
		trackViews = append(trackViews, sink.TrackView{
			ID:       t.ID,
			Role:     role,
			BBoxNorm: t.BBoxNorm,
			InGate:   tc.class.InGateArea,
			InAnchor: tc.class.InGuardAnchor,
			Velocity: geometry.Point{X: v.X, Y: v.Y},
		})

		if tc.isGuard {
			gv := sink.GuardView{ID: t.ID, BackingTrackID: t.ID, Qualified: qualifiedByID[t.ID]}
			if tid, ok := guardTicketID[t.ID]; ok {
				gv.CurrentTicketID = tid
				gv.HasTicket = true
			}
			guardViews = append(guardViews, gv)
		}
	}

	groupViews := make([]sink.GroupView, 0, len(groups))
	for _, g := range groups {
		groupViews = append(groupViews, sink.GroupView{
			ID:       g.ID,
			Members:  g.Members,
			Stable:   g.Stable(now, p.cfg.Group.TLock),
			Centroid: g.Centroid,
		})
	}

	ticketViews := make([]sink.TicketView, 0)
	for _, t := range p.tickets.All() {
		tv := sink.TicketView{
			ID:                  t.ID,
			Kind:                ticketKindString(t.Kind),
			Members:             t.Members,
			Status:              t.Status.String(),
			ExaminationMode:     string(t.ExaminationMode),
			ProximityDuration:   t.ProximityDuration,
			ExaminationDuration: t.ExaminationDuration,
			EscalationReason:    t.EscalationReason,
			ReadyAt:             t.ReadyAt,
		}
		if t.HasAssignedGuard {
			tv.AssignedGuardID = t.AssignedGuardID
			tv.HasAssignedGuard = true
		}
		if t.HasCompletedAt {
			tv.CompletedAt = t.CompletedAt
		}
		ticketViews = append(ticketViews, tv)
	}

	return sink.Snapshot{
		StreamID:    p.streamID,
		FrameID:     frame.FrameID,
		MonotonicTS: now,
		Tracks:      trackViews,
		Groups:      groupViews,
		Guards:      guardViews,
		Tickets:     ticketViews,
		Queue:       p.tickets.Queue(),
		Persons:     personViews,
		Counts:      p.counts,
		Stats:       p.stats,
	}
}

func ticketKindString(k ticket.Kind) string {
	if k == ticket.Group {
		return "group"
	}
	return "individual"
}
