package signature

// BuiltinPackerRules 内置壳特征库
// 数据来源: 常见国产/国际加固方案的落地文件与Stub类名
// 更新特征只改这里，分类逻辑不动
func BuiltinPackerRules() []PackerRuleSpec {
	return []PackerRuleSpec{
		// ==================== 国产加固 ====================
		{
			Name:            "360加固",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/libjiagu*.so", "assets/jiagu*"},
			LibMarkers:      []string{"libjiagu"},
			ManifestMarkers: []string{"com.stub.StubApp", "com.qihoo.util"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "腾讯乐固",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/tosversion", "assets/0OO00l111l1l"},
			LibMarkers:      []string{"libshell", "libshella", "libshellx", "libtxmsecurity"},
			ManifestMarkers: []string{"com.tencent.StubShell"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "爱加密",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/ijiami.dat", "assets/ijm_lib/*"},
			LibMarkers:      []string{"libexec", "libexecmain", "ijiami"},
			ManifestMarkers: []string{"com.shell.SuperApplication", "s.h.e.l.l"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "梆梆加固",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/classes.jar", "assets/bangcle*"},
			LibMarkers:      []string{"libDexHelper", "libSecShell"},
			ManifestMarkers: []string{"com.secneo.apkwrapper", "com.bangcle"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "娜迦加固",
			Family:          FamilyNative,
			LibMarkers:      []string{"libnaga", "libddog", "libedog"},
			ManifestMarkers: []string{"com.nagapt.protect"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "网易易盾",
			Family:          FamilyNative,
			LibMarkers:      []string{"libnesec", "libNetHTProtect"},
			ManifestMarkers: []string{"com.netease.nis.wrapper", "com.netease.htprotect"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "阿里聚安全",
			Family:          FamilyNative,
			LibMarkers:      []string{"libmobisec", "libsgmain", "libsgsecuritybody"},
			ManifestMarkers: []string{"com.alibaba.wireless.security", "com.taobao.wireless.security"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "百度加固",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/baiduprotect*"},
			LibMarkers:      []string{"libbaiduprotect", "libcocklogic"},
			ManifestMarkers: []string{"com.baidu.protect"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "通付盾",
			Family:          FamilyNative,
			LibMarkers:      []string{"libegis", "libNSaferOnly"},
			ManifestMarkers: []string{"com.payegis"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "几维安全",
			Family:          FamilyNative,
			LibMarkers:      []string{"libkwscmm", "libkwscr"},
			ManifestMarkers: []string{"com.kiwisec"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		// ==================== 国际加固 ====================
		{
			Name:            "DexGuard",
			Family:          FamilyDexEncrypt,
			PathMarkers:     []string{"assets/dexguard*"},
			LibMarkers:      []string{"libdexguard"},
			ManifestMarkers: []string{"o.Oo", "o.oOo"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		{
			Name:            "DexProtector",
			Family:          FamilyVMP,
			PathMarkers:     []string{"assets/dp.arm*"},
			LibMarkers:      []string{"libdexprotector"},
			ManifestMarkers: []string{"com.licel.dexprotector"},
			BaseWeight:      1.2,
			Tier:            TierHard,
		},
		{
			Name:            "Arxan",
			Family:          FamilyVMP,
			LibMarkers:      []string{"libArxan", "libArxanJNI"},
			ManifestMarkers: []string{"com.arxan"},
			BaseWeight:      1.2,
			Tier:            TierHard,
		},
		{
			Name:            "AppSealing",
			Family:          FamilyNative,
			PathMarkers:     []string{"assets/AppSealing/*"},
			LibMarkers:      []string{"libAppSealing", "libcovault"},
			ManifestMarkers: []string{"com.inka.appsealing"},
			BaseWeight:      1.0,
			Tier:            TierMedium,
		},
		// ==================== 通用特征 (低权重兜底) ====================
		{
			Name:        "未知壳 (Stub落地文件)",
			Family:      FamilyUnknown,
			PathMarkers: []string{"assets/classes*.dex", "assets/*.jar"},
			LibMarkers:  []string{"libstub", "libprotect"},
			BaseWeight:  0.5,
			Tier:        TierSimple,
		},
	}
}
