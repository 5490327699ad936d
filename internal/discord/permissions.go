package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// isPrivileged reports whether the caller bypasses queue limits: the guild
// owner, members with Administrator, or holders of a configured admin role.
// Roles come from the gateway cache; REST is only asked when the cache has none.
func (r *Router) isPrivileged(s *discordgo.Session, ic *discordgo.InteractionCreate) bool {
	if ic.Member == nil || ic.Member.User == nil {
		return false
	}
	if ic.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	ownerID, roles, cached := cachedGuildRoles(s.State, ic.GuildID)
	if !cached && len(ic.Member.Roles) > 0 {
		var err error
		if roles, err = s.GuildRoles(ic.GuildID); err != nil {
			r.log.Debug("guild roles", slog.String("guild", ic.GuildID), slog.Any("err", err))
		}
	}
	return privileged(ownerID, ic.Member, roles, r.adminRoleIDs)
}

// cachedGuildRoles reads the owner and roles of guildID from the state cache.
// cached is false when the guild or its roles are not there yet.
func cachedGuildRoles(st *discordgo.State, guildID string) (ownerID string, roles []*discordgo.Role, cached bool) {
	if st == nil {
		return "", nil, false
	}
	g, err := st.Guild(guildID)
	if err != nil || g == nil {
		return "", nil, false
	}
	st.RLock()
	defer st.RUnlock()
	roles = append([]*discordgo.Role(nil), g.Roles...)
	return g.OwnerID, roles, len(roles) > 0
}

func privileged(ownerID string, m *discordgo.Member, roles []*discordgo.Role, adminRoleIDs []string) bool {
	if m == nil || m.User == nil {
		return false
	}
	if ownerID != "" && m.User.ID == ownerID {
		return true
	}

	var perms int64
	for _, rid := range m.Roles {
		for _, ro := range roles {
			if ro.ID == rid {
				perms |= ro.Permissions
			}
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}

	has := make(map[string]struct{}, len(m.Roles))
	for _, rid := range m.Roles {
		has[rid] = struct{}{}
	}
	for _, want := range adminRoleIDs {
		if _, ok := has[want]; ok {
			return true
		}
	}
	return false
}
