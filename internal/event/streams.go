package event

// StreamKeys pulls the sortie, mission, and callsign a payload pertains to.
// The store persists these alongside each event so stream queries filter in
// SQL instead of decoding every body. Empty strings mean "not applicable".
func StreamKeys(p Payload) (sortieID, missionID, callsign string) {
	switch v := p.(type) {
	case *PilotRegistered:
		return "", "", v.Callsign
	case *PilotActive:
		return "", "", v.Callsign
	case *PilotDeregistered:
		return "", "", v.Callsign
	case *MessageSent:
		return v.SortieID, v.MissionID, v.From
	case *MessageRead:
		return "", "", v.Callsign
	case *MessageAcked:
		return "", "", v.Callsign
	case *ThreadCreated:
		return "", "", v.CreatedBy
	case *ThreadActivity:
		return "", "", v.Callsign
	case *FileReserved:
		return v.SortieID, v.MissionID, v.Callsign
	case *FileReleased:
		return "", "", v.Callsign
	case *FileConflict:
		return "", "", v.Callsign
	case *SortieCreated:
		return v.SortieID, v.MissionID, v.Assignee
	case *SortieStarted:
		return v.SortieID, "", v.Callsign
	case *SortieProgress:
		return v.SortieID, "", ""
	case *SortieCompleted:
		return v.SortieID, "", v.Callsign
	case *SortieBlocked:
		return v.SortieID, "", ""
	case *SortieStatusChanged:
		return v.SortieID, "", ""
	case *MissionCreated:
		return "", v.MissionID, v.CreatedBy
	case *MissionStarted:
		return "", v.MissionID, ""
	case *MissionCompleted:
		return "", v.MissionID, ""
	case *MissionSynced:
		return "", v.MissionID, ""
	case *CheckpointCreated:
		return v.SortieID, v.MissionID, v.Callsign
	case *ContextCompacted:
		return "", "", v.Callsign
	case *FleetRecovered:
		return "", "", v.Callsign
	case *ContextInjected:
		return "", "", v.Callsign
	case *CoordinatorDecision:
		return "", "", v.Actor
	case *CoordinatorViolation:
		switch v.Entity {
		case "sortie", "work_order":
			return v.EntityID, "", ""
		case "mission":
			return "", v.EntityID, ""
		}
		return "", "", ""
	case *PilotSpawned:
		return "", "", v.Callsign
	case *PilotCompleted:
		return "", "", v.Callsign
	case *ReviewStarted:
		return v.SortieID, "", v.Reviewer
	case *ReviewCompleted:
		return v.SortieID, "", v.Reviewer
	}
	return "", "", ""
}
