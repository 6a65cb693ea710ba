package core

import "github.com/dkeye/Huddle/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	meta *domain.Member
	conn Conn
}

func NewMemberSession(meta *domain.Member, conn Conn) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() *domain.Member { return m.meta }
func (m *memberSession) Conn() Conn           { return m.conn }
