package normalize

import (
	"github.com/sourceplane/mlpipe/internal/model"
)

// NormalizeDatastoreSet checks that every datastore carries the settings its
// type requires and that each dataset can be resolved on it.
func NormalizeDatastoreSet(set *model.DatastoreSet) (*model.DatastoreSet, error) {
	if set == nil {
		return nil, model.ErrConfiguration("datastore set cannot be nil")
	}

	issues := &model.ConfigurationError{}
	out := *set
	if !out.Spec.Workspace.Auth.Valid() {
		issues.Add("workspace auth mode %q is not supported", out.Spec.Workspace.Auth)
	}

	seen := make(map[string]bool)
	out.Spec.Datastores = make([]model.DatastoreSpec, 0, len(set.Spec.Datastores))
	for _, ds := range set.Spec.Datastores {
		if seen[ds.Name] {
			issues.Add("datastore %q is declared more than once", ds.Name)
		}
		seen[ds.Name] = true

		for field, value := range requiredDatastoreFields(ds) {
			if value == "" {
				issues.Add("datastore %q of type %s requires %s", ds.Name, ds.Type, field)
			}
		}

		datasets := make(map[string]model.DatasetSpec, len(ds.Datasets))
		for name, dataset := range ds.Datasets {
			switch {
			case ds.Type == model.DatastoreSQL && dataset.Type != model.DatasetTabular:
				issues.Add("dataset %q: SQL datastores only back tabular datasets", name)
			case ds.Type == model.DatastoreSQL && dataset.Query == "":
				issues.Add("dataset %q requires a query", name)
			case ds.Type != model.DatastoreSQL && dataset.Path == "":
				issues.Add("dataset %q requires a path", name)
			}
			datasets[name] = dataset
		}
		ds.Datasets = datasets
		out.Spec.Datastores = append(out.Spec.Datastores, ds)
	}

	if err := issues.OrNil(); err != nil {
		return nil, err
	}
	return &out, nil
}

func requiredDatastoreFields(ds model.DatastoreSpec) map[string]string {
	switch ds.Type {
	case model.DatastoreBlob:
		return map[string]string{
			"accountName":      ds.AccountName,
			"container":        ds.Container,
			"accountKeySecret": ds.AccountKeySecret,
		}
	case model.DatastoreADLS2:
		return map[string]string{
			"accountName":        ds.AccountName,
			"container":          ds.Container,
			"tenantIdSecret":     ds.TenantIDSecret,
			"clientIdSecret":     ds.ClientIDSecret,
			"clientSecretSecret": ds.ClientSecret,
		}
	case model.DatastoreSQL:
		return map[string]string{
			"server":         ds.Server,
			"database":       ds.Database,
			"username":       ds.Username,
			"passwordSecret": ds.PasswordSecret,
		}
	}
	return map[string]string{"a supported type (BLOB, ADLS2, SQL)": ""}
}
