// Package memory is an in-process platform that keeps channels, members and
// permission overwrites in maps. It backs tests and platform.mode=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tempvoice/internal/core/domain"
)

const createLostResponse = "create_voice_channel:lost_response"

type channel struct {
	info  domain.ChannelInfo
	perms map[domain.UserID]domain.Permission
}

type Platform struct {
	mu       sync.Mutex
	channels map[domain.ChannelID]*channel
	location map[domain.UserID]domain.ChannelID
	names    map[domain.UserID]string
	failures map[string][]error
	calls    map[string]int
	nextID   int
	sink     func(domain.MembershipEvent)
}

func New() *Platform {
	return &Platform{
		channels: make(map[domain.ChannelID]*channel),
		location: make(map[domain.UserID]domain.ChannelID),
		names:    make(map[domain.UserID]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetEventSink receives a membership event for every move the platform performs.
func (p *Platform) SetEventSink(sink func(domain.MembershipEvent)) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// AddChannel registers a channel that exists outside the orchestrator's control,
// such as a creator channel.
func (p *Platform) AddChannel(id, parent domain.ChannelID, name, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[id] = &channel{
		info:  domain.ChannelInfo{ID: id, Parent: parent, Name: name, Tag: tag, CreatedAt: time.Now()},
		perms: make(map[domain.UserID]domain.Permission),
	}
}

func (p *Platform) SetMemberName(user domain.UserID, name string) {
	p.mu.Lock()
	p.names[user] = name
	p.mu.Unlock()
}

// FailNext makes the next call of command return err. Queued failures are used in order.
func (p *Platform) FailNext(command string, err error) {
	p.mu.Lock()
	p.failures[command] = append(p.failures[command], err)
	p.mu.Unlock()
}

// LoseNextCreateResponse makes the next create succeed on the platform while
// returning err to the caller, as after a timeout.
func (p *Platform) LoseNextCreateResponse(err error) {
	p.mu.Lock()
	p.failures[createLostResponse] = append(p.failures[createLostResponse], err)
	p.mu.Unlock()
}

// Calls reports how often command was invoked, failures included.
func (p *Platform) Calls(command string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[command]
}

// Connect puts user into channel the way a client would and returns the event.
func (p *Platform) Connect(user domain.UserID, id domain.ChannelID) (domain.MembershipEvent, error) {
	p.mu.Lock()
	if _, ok := p.channels[id]; !ok {
		p.mu.Unlock()
		return domain.MembershipEvent{}, domain.ErrChannelNotFound
	}
	ev := p.moveLocked(user, id)
	p.mu.Unlock()
	return ev, nil
}

// Disconnect removes user from voice the way a client would and returns the event.
func (p *Platform) Disconnect(user domain.UserID) domain.MembershipEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moveLocked(user, "")
}

// DeleteExternally removes a channel without the orchestrator knowing.
func (p *Platform) DeleteExternally(id domain.ChannelID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteLocked(id)
}

func (p *Platform) Permission(id domain.ChannelID, target domain.UserID) domain.Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[id]; ok {
		if perm, ok := ch.perms[target]; ok {
			return perm
		}
	}
	return domain.PermissionClear
}

func (p *Platform) Exists(id domain.ChannelID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[id]
	return ok
}

// ChannelCount counts the channels under parent.
func (p *Platform) ChannelCount(parent domain.ChannelID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ch := range p.channels {
		if ch.info.Parent == parent {
			n++
		}
	}
	return n
}

func (p *Platform) begin(command string) error {
	p.calls[command]++
	if queued := p.failures[command]; len(queued) > 0 {
		p.failures[command] = queued[1:]
		return queued[0]
	}
	return nil
}

func (p *Platform) CreateVoiceChannel(ctx context.Context, spec domain.ChannelSpec) (domain.ChannelID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("create_voice_channel"); err != nil {
		return "", err
	}

	p.nextID++
	id := domain.ChannelID(fmt.Sprintf("vc-%d", p.nextID))
	ch := &channel{
		info: domain.ChannelInfo{
			ID:        id,
			Parent:    spec.Parent,
			Name:      spec.Name,
			Tag:       spec.Tag,
			Limit:     spec.Limit,
			CreatedAt: time.Now(),
		},
		perms: make(map[domain.UserID]domain.Permission, len(spec.Overwrites)),
	}
	for u, perm := range spec.Overwrites {
		ch.perms[u] = perm
	}
	p.channels[id] = ch

	// A lost response: the channel exists but the caller sees a failure.
	if queued := p.failures[createLostResponse]; len(queued) > 0 {
		p.failures[createLostResponse] = queued[1:]
		return "", queued[0]
	}
	return id, nil
}

func (p *Platform) DeleteVoiceChannel(ctx context.Context, id domain.ChannelID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("delete_voice_channel"); err != nil {
		return err
	}
	if _, ok := p.channels[id]; !ok {
		return domain.ErrChannelNotFound
	}
	p.deleteLocked(id)
	return nil
}

func (p *Platform) deleteLocked(id domain.ChannelID) {
	for user, at := range p.location {
		if at == id {
			p.moveLocked(user, "")
		}
	}
	delete(p.channels, id)
}

func (p *Platform) MoveMember(ctx context.Context, user domain.UserID, id domain.ChannelID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("move_member"); err != nil {
		return err
	}
	if id != "" {
		if _, ok := p.channels[id]; !ok {
			return domain.ErrChannelNotFound
		}
		if _, connected := p.location[user]; !connected {
			return fmt.Errorf("user %s is not connected to voice", user)
		}
	}
	p.moveLocked(user, id)
	return nil
}

// moveLocked relocates user and notifies the sink. The sink runs in its own
// goroutine because it usually calls back into the platform.
func (p *Platform) moveLocked(user domain.UserID, id domain.ChannelID) domain.MembershipEvent {
	before := p.location[user]
	if id == "" {
		delete(p.location, user)
	} else {
		p.location[user] = id
	}

	ev := domain.MembershipEvent{UserID: user, Before: before, After: id, Timestamp: time.Now()}
	if p.sink != nil && before != id {
		sink := p.sink
		go sink(ev)
	}
	return ev
}

func (p *Platform) SetChannelPermission(ctx context.Context, id domain.ChannelID, target domain.UserID, perm domain.Permission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("set_channel_permission"); err != nil {
		return err
	}
	ch, ok := p.channels[id]
	if !ok {
		return domain.ErrChannelNotFound
	}
	if perm == domain.PermissionClear {
		delete(ch.perms, target)
	} else {
		ch.perms[target] = perm
	}
	return nil
}

func (p *Platform) RenameChannel(ctx context.Context, id domain.ChannelID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("rename_channel"); err != nil {
		return err
	}
	ch, ok := p.channels[id]
	if !ok {
		return domain.ErrChannelNotFound
	}
	ch.info.Name = name
	return nil
}

func (p *Platform) SetChannelLimit(ctx context.Context, id domain.ChannelID, limit int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("set_channel_limit"); err != nil {
		return err
	}
	ch, ok := p.channels[id]
	if !ok {
		return domain.ErrChannelNotFound
	}
	ch.info.Limit = limit
	return nil
}

func (p *Platform) GetChannelMembers(ctx context.Context, id domain.ChannelID) ([]domain.UserID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("get_channel_members"); err != nil {
		return nil, err
	}
	if _, ok := p.channels[id]; !ok {
		return nil, domain.ErrChannelNotFound
	}
	return p.membersLocked(id), nil
}

func (p *Platform) membersLocked(id domain.ChannelID) []domain.UserID {
	members := []domain.UserID{}
	for user, at := range p.location {
		if at == id {
			members = append(members, user)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

func (p *Platform) GetChannel(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("get_channel"); err != nil {
		return nil, err
	}
	ch, ok := p.channels[id]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	info := ch.info
	info.Members = p.membersLocked(id)
	return &info, nil
}

func (p *Platform) ListChannels(ctx context.Context, parent domain.ChannelID) ([]*domain.ChannelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("list_channels"); err != nil {
		return nil, err
	}
	var out []*domain.ChannelInfo
	for id, ch := range p.channels {
		if ch.info.Parent != parent {
			continue
		}
		info := ch.info
		info.Members = p.membersLocked(id)
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Platform) GetMemberName(ctx context.Context, user domain.UserID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("get_member_name"); err != nil {
		return "", err
	}
	if name, ok := p.names[user]; ok {
		return name, nil
	}
	return string(user), nil
}
