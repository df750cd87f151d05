package services

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// ReconcileOutcome is the result of merging one observed upstream version
// into the record store.
type ReconcileOutcome string

const (
	// OutcomeCreated means a new resource record was created.
	OutcomeCreated ReconcileOutcome = "created"
	// OutcomeUpdated means the version was inserted into an existing record.
	OutcomeUpdated ReconcileOutcome = "updated"
	// OutcomeOldHit means the version was already known; nothing was
	// mutated. This is the idempotence guarantee that makes repeated
	// ingestion runs safe.
	OutcomeOldHit ReconcileOutcome = "old_hit"
	// OutcomeBlocked means the resource is blocked; blocking is sticky and
	// requires manual intervention.
	OutcomeBlocked ReconcileOutcome = "blocked"
)

// NewVersion is one freshly observed upstream version plus its resource's
// stable identity.
type NewVersion struct {
	ResourceID   string
	ResourceDOI  string
	ResourceType string
	Version      models.Version

	// StatusPolicy is the status for a newly created resource. Zero means
	// the reconciler's default policy.
	StatusPolicy models.Status

	// SuggestedNickname carries a nickname found in the upstream descriptor,
	// to be kept if it is valid and free.
	SuggestedNickname string
}

// Reconciler merges observed upstream versions into persistent resource
// records without creating duplicates or violating status invariants.
type Reconciler struct {
	store         *store.Store
	nicknames     *NicknameRegistry
	defaultStatus models.Status
	logger        *zap.Logger
}

// NewReconciler creates a reconciler. defaultStatus is the status given to
// newly created resources ("pending" for the conservative fully-automatic
// policy, "accepted" for the default-open policy).
func NewReconciler(s *store.Store, nicknames *NicknameRegistry, defaultStatus models.Status, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:         s,
		nicknames:     nicknames,
		defaultStatus: defaultStatus,
		logger:        logger.Named("reconciler"),
	}
}

// Reconcile merges in into the record store and persists the result.
// The returned resource is nil for the old_hit and blocked outcomes.
func (r *Reconciler) Reconcile(in NewVersion) (*models.Resource, ReconcileOutcome, error) {
	if in.ResourceID == "" || in.Version.VersionID == "" {
		return nil, "", fmt.Errorf("%w: reconcile requires resource and version identity", apperrors.ErrInvariant)
	}

	newVersion := in.Version
	if newVersion.Status == "" {
		newVersion.Status = models.StatusPending
	}
	if newVersion.Created.IsZero() {
		newVersion.Created = time.Now().UTC().Truncate(time.Second)
	}

	resourceType := in.ResourceType
	if resourceType == "" {
		// a malformed upstream payload never blocks the rest of the batch;
		// the version is recorded with an explanatory note instead
		resourceType = "unknown"
		if newVersion.Note == "" {
			newVersion.Note = "upstream descriptor could not be resolved"
		}
	}

	existing, err := r.store.LoadResource(in.ResourceID)
	switch {
	case err == nil:
		return r.reconcileExisting(existing, resourceType, newVersion, in.SuggestedNickname)
	case errors.Is(err, apperrors.ErrNotFound):
		return r.createResource(in, resourceType, newVersion)
	default:
		return nil, "", err
	}
}

func (r *Reconciler) reconcileExisting(resource *models.Resource, resourceType string, newVersion models.Version, suggestedNickname string) (*models.Resource, ReconcileOutcome, error) {
	if resource.Status == models.StatusBlocked {
		return nil, OutcomeBlocked, nil
	}

	for _, known := range resource.Versions {
		if known.SameIdentity(newVersion) {
			return nil, OutcomeOldHit, nil
		}
	}

	resource.Versions = append([]models.Version{newVersion}, resource.Versions...)
	resource.SortVersions()
	if resourceType != "unknown" {
		resource.Type = resourceType
	}
	promoteOwners(resource)

	// a resource first ingested with an unresolvable descriptor has no
	// nickname yet; once a later version reveals it is a model, it gets one
	if resource.Type == "model" && resource.Nickname == "" {
		if err := r.assignNickname(resource, suggestedNickname); err != nil {
			return nil, "", err
		}
	}

	if err := r.store.SaveResource(resource); err != nil {
		return nil, "", err
	}
	r.logger.Info("extended resource by new version",
		zap.String("resource_id", resource.ID),
		zap.String("version_id", newVersion.VersionID))
	return resource, OutcomeUpdated, nil
}

func (r *Reconciler) createResource(in NewVersion, resourceType string, newVersion models.Version) (*models.Resource, ReconcileOutcome, error) {
	status := in.StatusPolicy
	if status == "" {
		status = r.defaultStatus
	}

	resource := &models.Resource{
		ID:       in.ResourceID,
		Status:   status,
		Type:     resourceType,
		DOI:      in.ResourceDOI,
		Versions: []models.Version{newVersion},
	}
	promoteOwners(resource)

	if err := r.assignNickname(resource, in.SuggestedNickname); err != nil {
		return nil, "", err
	}

	if err := r.store.SaveResource(resource); err != nil {
		return nil, "", err
	}
	r.logger.Info("created resource",
		zap.String("resource_id", resource.ID),
		zap.String("status", string(resource.Status)),
		zap.String("nickname", resource.Nickname))
	return resource, OutcomeCreated, nil
}

// assignNickname applies the nickname policy: model resources get a unique
// adjective-animal nickname (keeping a valid suggested one); any other type
// carrying a nickname gets the invalid marker so validation flags it.
func (r *Reconciler) assignNickname(resource *models.Resource, suggested string) error {
	if resource.Type != "model" {
		if suggested != "" {
			resource.Nickname = NicknameNotAllowed
		}
		return nil
	}

	if suggested != "" && r.nicknames.Valid(suggested) {
		_, animal, err := r.nicknames.Split(suggested)
		if err == nil {
			if icon, ok := r.nicknames.Icon(animal); ok {
				r.nicknames.Reserve(suggested)
				resource.Nickname = suggested
				resource.NicknameIcon = icon
				return nil
			}
		}
	}

	nickname, icon, err := r.nicknames.Generate()
	if err != nil {
		return err
	}
	resource.Nickname = nickname
	resource.NicknameIcon = icon
	return nil
}

// promoteOwners moves version-level owners to the resource record; the
// newest version's owners win.
func promoteOwners(resource *models.Resource) {
	for i := range resource.Versions {
		if len(resource.Versions[i].Owners) > 0 {
			resource.Owners = resource.Versions[i].Owners
			resource.Versions[i].Owners = nil
			break
		}
	}
}
