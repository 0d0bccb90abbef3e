package fakeapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/leadctl/internal/campaign"
	"github.com/kalambet/leadctl/internal/leadapi"
)

const autoReplyBody = "Maybe. What would you offer?"

// --- search ---

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req leadapi.ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := leadapi.ScanResult{Leads: []leadapi.LeadPreview{}, PurchasedLeads: []leadapi.Lead{}}
	for _, id := range s.areaLeads(req.State, req.City) {
		l := s.leads[id]
		if l.IsPurchased {
			res.PurchasedLeads = append(res.PurchasedLeads, *l)
		} else {
			res.Leads = append(res.Leads, preview(l))
		}
	}
	res.NewCount = len(res.Leads)
	res.PurchasedCount = len(res.PurchasedLeads)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req leadapi.EnrichRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	area := s.areaLeads(req.State, req.City)
	var enriched []leadapi.Lead
	var ids []string
	for _, id := range req.RadarIDs {
		idx := slices.Index(area, id)
		if idx < 0 || slices.Contains(ids, id) {
			continue
		}
		l := s.leads[id]
		enrichContact(l, idx)
		enriched = append(enriched, *l)
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		s.nextHist++
		rec := &historyRecord{
			HistoryEntry: leadapi.HistoryEntry{
				ID:           s.nextHist,
				City:         s.leads[ids[0]].City,
				Strategy:     req.Strategy,
				CreatedAt:    s.opts.Now().UTC(),
				TotalResults: len(ids),
			},
			leadIDs: ids,
		}
		s.history = append([]*historyRecord{rec}, s.history...)
	}

	if s.opts.EnrichReturnsLeads {
		if enriched == nil {
			enriched = []leadapi.Lead{}
		}
		writeJSON(w, http.StatusOK, enriched)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "saved_count": len(ids)})
}

// --- history ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]leadapi.HistoryEntry, 0, len(s.history))
	for _, h := range s.history {
		out = append(out, h.HistoryEntry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryLeads(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.history {
		if h.ID != id {
			continue
		}
		out := make([]leadapi.Lead, 0, len(h.leadIDs))
		for _, lid := range h.leadIDs {
			out = append(out, *s.leads[lid])
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	httpError(w, http.StatusNotFound, "Search history not found")
}

// --- campaigns ---

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	out := []leadapi.Campaign{}
	for _, c := range s.campaigns {
		if c.userID == u.ID {
			out = append(out, c.Campaign)
		}
	}
	slices.SortFunc(out, func(a, b leadapi.Campaign) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID - a.ID
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req leadapi.StartCampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.LeadIDs) == 0 {
		httpError(w, http.StatusBadRequest, "Lead list cannot be empty.")
		return
	}
	if err := req.Validate(); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}
	u := currentUser(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	var roster []rosterItem
	for _, id := range req.LeadIDs {
		if l, ok := s.leads[id]; ok && l.IsPurchased && !slices.ContainsFunc(roster, func(it rosterItem) bool { return it.leadID == id }) {
			roster = append(roster, rosterItem{leadID: id, status: leadapi.ConversationQueued})
		}
	}
	if len(roster) == 0 {
		httpError(w, http.StatusNotFound, "No valid leads found in database matching provided IDs.")
		return
	}

	s.nextCamp++
	c := &campaignState{
		Campaign: leadapi.Campaign{
			ID:         s.nextCamp,
			Name:       req.Name,
			Status:     leadapi.CampaignProcessing,
			TotalLeads: len(roster),
			CreatedAt:  s.opts.Now().UTC(),
		},
		userID:   u.ID,
		template: req.TemplateBody,
		roster:   roster,
		messages: make(map[string][]leadapi.Message),
	}
	s.campaigns[c.ID] = c
	writeJSON(w, http.StatusOK, c.Campaign)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lockCampaign(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	in := leadapi.Inbox{CampaignID: c.ID, CampaignName: c.Name, Conversations: []leadapi.Conversation{}}
	for _, item := range c.roster {
		l := s.leads[item.leadID]
		msgs := c.messages[item.leadID]
		conv := leadapi.Conversation{
			LeadID:         l.RadarID,
			OwnerName:      l.OwnerName,
			Address:        l.Address,
			Status:         item.status,
			LastActivityAt: c.CreatedAt,
			Messages:       append([]leadapi.Message{}, msgs...),
		}
		if len(l.PhoneNumbers) > 0 {
			conv.PhoneNumber = l.PhoneNumbers[0]
		}
		if len(msgs) > 0 {
			conv.LastActivityAt = msgs[len(msgs)-1].CreatedAt
		}
		in.Conversations = append(in.Conversations, conv)
	}
	slices.SortStableFunc(in.Conversations, func(a, b leadapi.Conversation) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleToggleArchive(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lockCampaign(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	if c.Status == leadapi.CampaignArchived {
		c.Status = leadapi.CampaignCompleted
	} else {
		c.Status = leadapi.CampaignArchived
	}
	writeJSON(w, http.StatusOK, c.Campaign)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lockCampaign(w, r)
	if !ok {
		return
	}
	defer s.mu.Unlock()

	delete(s.campaigns, c.ID)
	s.replies = slices.DeleteFunc(s.replies, func(p pendingReply) bool { return p.campaignID == c.ID })
	w.WriteHeader(http.StatusNoContent)
}

// lockCampaign resolves {id} to a campaign owned by the caller. On success
// mu is held and pending sends and replies have been applied.
func (s *Server) lockCampaign(w http.ResponseWriter, r *http.Request) (*campaignState, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	u := currentUser(r)

	s.mu.Lock()
	s.advance()
	c, found := s.campaigns[id]
	if !found || c.userID != u.ID {
		s.mu.Unlock()
		httpError(w, http.StatusNotFound, "Campaign not found")
		return nil, false
	}
	return c, true
}

// --- messages ---

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req leadapi.SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}
	u := currentUser(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	l, ok := s.leads[req.LeadID]
	if !ok {
		httpError(w, http.StatusBadRequest, "Lead %s not found.", req.LeadID)
		return
	}
	if len(l.PhoneNumbers) == 0 {
		httpError(w, http.StatusBadRequest, "This lead has no valid phone numbers.")
		return
	}
	c, ok := s.campaigns[req.CampaignID]
	if !ok || c.userID != u.ID {
		httpError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	idx := slices.IndexFunc(c.roster, func(it rosterItem) bool { return it.leadID == req.LeadID })
	if idx < 0 {
		httpError(w, http.StatusBadRequest, "Lead %s is not part of campaign %d.", req.LeadID, c.ID)
		return
	}

	now := s.opts.Now().UTC()
	msg := s.appendMessage(c, req.LeadID, "outbound-api", req.Body, now)
	if c.roster[idx].status != leadapi.ConversationReplied {
		c.roster[idx].status = leadapi.ConversationSent
	}
	if s.opts.AutoReply {
		s.replies = append(s.replies, pendingReply{campaignID: c.ID, leadID: req.LeadID, due: now.Add(s.opts.ReplyDelay)})
	}
	writeJSON(w, http.StatusOK, msg)
}

// --- background progress ---

// advance applies campaign sends and replies that are due. Must be called
// with mu held.
func (s *Server) advance() {
	now := s.opts.Now()

	for _, c := range s.campaigns {
		if c.Status != leadapi.CampaignProcessing {
			continue
		}
		sentAt := c.CreatedAt.Add(s.opts.SendDelay)
		if now.Before(sentAt) {
			continue
		}
		for i := range c.roster {
			item := &c.roster[i]
			if item.status != leadapi.ConversationQueued {
				continue
			}
			l := s.leads[item.leadID]
			if len(l.PhoneNumbers) == 0 {
				item.status = leadapi.ConversationFailed
				continue
			}
			s.appendMessage(c, item.leadID, "outbound-api", campaign.Render(c.template, *l), sentAt)
			item.status = leadapi.ConversationSent
			if s.opts.AutoReply && i%3 == 0 {
				s.replies = append(s.replies, pendingReply{campaignID: c.ID, leadID: item.leadID, due: sentAt.Add(s.opts.ReplyDelay)})
			}
		}
		c.Status = leadapi.CampaignCompleted
	}

	kept := s.replies[:0]
	for _, p := range s.replies {
		if now.Before(p.due) {
			kept = append(kept, p)
			continue
		}
		c, ok := s.campaigns[p.campaignID]
		if !ok {
			continue
		}
		s.appendMessage(c, p.leadID, leadapi.DirectionInbound, autoReplyBody, p.due)
		for i := range c.roster {
			if c.roster[i].leadID == p.leadID {
				c.roster[i].status = leadapi.ConversationReplied
			}
		}
	}
	s.replies = kept
}

func (s *Server) appendMessage(c *campaignState, leadID, direction, body string, at time.Time) leadapi.Message {
	s.nextMsg++
	msg := leadapi.Message{ID: s.nextMsg, Direction: direction, Body: body, CreatedAt: at.UTC()}
	c.messages[leadID] = append(c.messages[leadID], msg)
	return msg
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		httpError(w, http.StatusUnprocessableEntity, "invalid id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}
