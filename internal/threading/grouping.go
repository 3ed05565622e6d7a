package threading

import (
	"sort"
	"strings"

	"github.com/deskline/mailsync/internal/models"
)

// GroupThreads builds display threads from a window of stored messages.
//
// Two messages are linked when they share a thread id, when one's reply
// headers point at the other, or when they carry the same normalized subject
// within SubjectWindow and also share a sender, any participant, or a
// sender/recipient reply pattern. Threads are the connected components of
// that graph, newest thread first. Messages with no links stay singletons.
func GroupThreads(messages []*models.Message) []*models.ConversationThread {
	n := len(messages)
	if n == 0 {
		return []*models.ConversationThread{}
	}

	adj := make([][]int, n)
	link := func(i, j int) {
		if i == j {
			return
		}
		adj[i] = append(adj[i], j)
		adj[j] = append(adj[j], i)
	}

	byMessageID := make(map[string]int, n)
	byThread := make(map[string]int, n)
	bySubject := make(map[string][]int)
	for i, m := range messages {
		if id := NormalizeMessageID(m.MessageID); id != "" {
			if _, dup := byMessageID[id]; !dup {
				byMessageID[id] = i
			}
		}
		if m.ThreadID != "" {
			if first, ok := byThread[m.ThreadID]; ok {
				link(first, i)
			} else {
				byThread[m.ThreadID] = i
			}
		}
		if s := subjectOf(m); s != "" {
			bySubject[s] = append(bySubject[s], i)
		}
	}

	for i, m := range messages {
		for _, ptr := range ExtractThreadHeaders(m.Headers).Pointers() {
			if j, ok := byMessageID[ptr]; ok {
				link(i, j)
			}
		}
	}

	for _, idx := range bySubject {
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				if subjectLinked(messages[idx[a]], messages[idx[b]]) {
					link(idx[a], idx[b])
				}
			}
		}
	}

	visited := make([]bool, n)
	threads := make([]*models.ConversationThread, 0, n)
	for start := range messages {
		if visited[start] {
			continue
		}
		var members []*models.Message
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, messages[cur])
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		threads = append(threads, buildThread(members))
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Latest.SentAt.After(threads[j].Latest.SentAt)
	})
	return threads
}

func subjectOf(m *models.Message) string {
	if m.NormalizedSubject != "" {
		return m.NormalizedSubject
	}
	return NormalizeSubject(m.Subject)
}

func subjectLinked(a, b *models.Message) bool {
	gap := a.SentAt.Sub(b.SentAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > SubjectWindow {
		return false
	}
	if sameSender(a, b) {
		return true
	}
	if overlaps(fromTo(a), fromTo(b)) {
		return true
	}
	return repliesTo(a, b) || repliesTo(b, a)
}

func sameSender(a, b *models.Message) bool {
	if a.FromAddress != "" && strings.EqualFold(a.FromAddress, b.FromAddress) {
		return true
	}
	return a.FromName != "" && strings.EqualFold(strings.TrimSpace(a.FromName), strings.TrimSpace(b.FromName))
}

func fromTo(m *models.Message) []string {
	out := make([]string, 0, 1+len(m.ToAddresses))
	if m.FromAddress != "" {
		out = append(out, strings.ToLower(m.FromAddress))
	}
	for _, to := range m.ToAddresses {
		out = append(out, strings.ToLower(to))
	}
	return out
}

// repliesTo reports whether reply's sender is one of orig's recipients.
func repliesTo(reply, orig *models.Message) bool {
	if reply.FromAddress == "" {
		return false
	}
	for _, to := range orig.ToAddresses {
		if strings.EqualFold(to, reply.FromAddress) {
			return true
		}
	}
	return false
}

func buildThread(members []*models.Message) *models.ConversationThread {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].SentAt.Equal(members[j].SentAt) {
			return members[i].SentAt.Before(members[j].SentAt)
		}
		return members[i].ID < members[j].ID
	})

	root := members[0]
	t := &models.ConversationThread{
		ID:       threadIDOf(root),
		Subject:  root.Subject,
		Latest:   members[len(members)-1],
		Messages: members,
		Count:    len(members),
	}
	for _, m := range members {
		if !m.IsRead {
			t.Unread = true
		}
		if t.Subject == "" && m.Subject != "" {
			t.Subject = m.Subject
		}
	}
	if t.ID == "" {
		t.ID = root.ID
	}
	return t
}
